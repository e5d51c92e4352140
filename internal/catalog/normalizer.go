package catalog

import (
	"fmt"
	"net/url"
	"strings"

	"clearance-watch/internal/domain"
)

const (
	// AssetHost serves product images referenced by relative paths
	AssetHost = "https://image.hm.com"

	defaultDiscountPercentage = "0%"
)

// Normalizer maps raw listing hits to canonical products
type Normalizer struct {
	storeBase *url.URL
}

// NewNormalizer creates a normalizer resolving product links against storeBaseURL
func NewNormalizer(storeBaseURL string) (*Normalizer, error) {
	base, err := url.Parse(storeBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid store base URL: %w", err)
	}
	return &Normalizer{storeBase: base}, nil
}

// Normalize converts one raw hit. Variants start UNDEFINED; LastSeen is left
// for the caller to stamp.
func (n *Normalizer) Normalize(raw RawProduct, category string) (domain.Product, error) {
	code := strings.TrimSpace(raw.ArticleCode)
	if code == "" {
		return domain.Product{}, fmt.Errorf("%w: empty articleCode (title %q)", ErrMalformedRecord, raw.Title)
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return domain.Product{}, fmt.Errorf("%w: empty title for %s", ErrMalformedRecord, code)
	}

	discount := strings.TrimSpace(raw.DiscountPercentage)
	if discount == "" {
		discount = defaultDiscountPercentage
	}

	variants := make([]domain.Variant, 0, len(raw.Sizes))
	for _, s := range raw.Sizes {
		if strings.TrimSpace(s.SizeCode) == "" {
			return domain.Product{}, fmt.Errorf("%w: size without sizeCode on %s", ErrMalformedRecord, code)
		}
		variants = append(variants, domain.Variant{
			SizeCode:     s.SizeCode,
			Name:         s.Name,
			Availability: domain.AvailabilityUndefined,
		})
	}

	return domain.Product{
		ArticleCode:        code,
		Category:           category,
		ImageSrc:           absoluteImageURL(raw.ImageProductSrc),
		ProductURL:         n.absoluteProductURL(raw.PdpURL),
		Title:              title,
		RegularPrice:       strings.TrimSpace(raw.RegularPrice),
		DiscountPrice:      strings.TrimSpace(raw.RedPrice),
		DiscountPercentage: discount,
		Variants:           variants,
	}, nil
}

// NormalizeAll converts a whole fetch. The first malformed record fails the
// batch. Repeated article codes keep their first occurrence.
func (n *Normalizer) NormalizeAll(raws []RawProduct, category string) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))

	for i, raw := range raws {
		p, err := n.Normalize(raw, category)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := seen[p.ArticleCode]; dup {
			continue
		}
		seen[p.ArticleCode] = struct{}{}
		products = append(products, p)
	}

	return products, nil
}

func absoluteImageURL(src string) string {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
		return ""
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "/"):
		return AssetHost + src
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return src
	default:
		return AssetHost + "/" + src
	}
}

func (n *Normalizer) absoluteProductURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return n.storeBase.ResolveReference(ref).String()
}
