package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrPayloadMissing  = errors.New("listing payload missing")
	ErrMalformedRecord = errors.New("malformed product record")
)

// RawProduct is one listing hit as embedded in a category page
type RawProduct struct {
	ArticleCode        string    `json:"articleCode"`
	ImageProductSrc    string    `json:"imageProductSrc"`
	PdpURL             string    `json:"pdpUrl"`
	Title              string    `json:"title"`
	RegularPrice       string    `json:"regularPrice"`
	RedPrice           string    `json:"redPrice"`
	DiscountPercentage string    `json:"discountPercentage"`
	Sizes              []RawSize `json:"sizes"`
}

type RawSize struct {
	SizeCode string `json:"sizeCode"`
	Name     string `json:"name"`
}

// nextData mirrors the path props.pageProps.plpProps.productListingProps.hits
type nextData struct {
	Props struct {
		PageProps struct {
			PlpProps *struct {
				ProductListingProps *struct {
					Hits *[]RawProduct `json:"hits"`
				} `json:"productListingProps"`
			} `json:"plpProps"`
		} `json:"pageProps"`
	} `json:"props"`
}

// parseNextData extracts the listing hits from a __NEXT_DATA__ document
func parseNextData(payload []byte) ([]RawProduct, error) {
	var data nextData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("%w: invalid listing JSON: %v", ErrPayloadMissing, err)
	}

	plp := data.Props.PageProps.PlpProps
	if plp == nil || plp.ProductListingProps == nil || plp.ProductListingProps.Hits == nil {
		return nil, fmt.Errorf("%w: no productListingProps.hits", ErrPayloadMissing)
	}

	return *plp.ProductListingProps.Hits, nil
}
