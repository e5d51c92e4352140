package domain

import (
	"fmt"
	"time"
)

// Availability is the stock state of a single variant
type Availability int

const (
	AvailabilityUndefined  Availability = -1
	AvailabilityOutOfStock Availability = 0
	AvailabilityFewLeft    Availability = 1
	AvailabilityInStock    Availability = 2
)

// String returns the upper-case label of the availability state
func (a Availability) String() string {
	switch a {
	case AvailabilityUndefined:
		return "UNDEFINED"
	case AvailabilityOutOfStock:
		return "OUT_OF_STOCK"
	case AvailabilityFewLeft:
		return "FEW_LEFT"
	case AvailabilityInStock:
		return "IN_STOCK"
	default:
		return fmt.Sprintf("Availability(%d)", int(a))
	}
}

// Valid reports whether a is one of the four known states
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityUndefined, AvailabilityOutOfStock, AvailabilityFewLeft, AvailabilityInStock:
		return true
	}
	return false
}

// IsAvailable reports whether the variant can be bought
func (a Availability) IsAvailable() bool {
	return a == AvailabilityInStock || a == AvailabilityFewLeft
}

// Product represents one clearance listing (one article/color combination)
type Product struct {
	ArticleCode        string    `json:"article_code" db:"article_code"`
	Category           string    `json:"category" db:"category"`
	ImageSrc           string    `json:"image_src" db:"image_src"`
	ProductURL         string    `json:"product_url" db:"product_url"`
	Title              string    `json:"title" db:"title"`
	RegularPrice       string    `json:"regular_price" db:"regular_price"`
	DiscountPrice      string    `json:"discount_price" db:"discount_price"`
	DiscountPercentage string    `json:"discount_percentage" db:"discount_percentage"`
	LastSeen           time.Time `json:"last_seen" db:"last_seen"`
	Variants           []Variant `json:"variants"`
}

// Variant is a size option of a product. SizeCode is only unique within
// its parent article.
type Variant struct {
	SizeCode     string       `json:"size_code" db:"size_code"`
	Name         string       `json:"name" db:"name"`
	Availability Availability `json:"availability" db:"availability"`
}

// AvailableVariants returns the variants that are in stock or nearly sold out
func (p *Product) AvailableVariants() []Variant {
	var out []Variant
	for _, v := range p.Variants {
		if v.Availability.IsAvailable() {
			out = append(out, v)
		}
	}
	return out
}

// FewLeftVariants returns the variants flagged as nearly sold out
func (p *Product) FewLeftVariants() []Variant {
	var out []Variant
	for _, v := range p.Variants {
		if v.Availability == AvailabilityFewLeft {
			out = append(out, v)
		}
	}
	return out
}

// Category is a tracked section of the storefront
type Category struct {
	Key   string `json:"key" mapstructure:"key" validate:"required"`
	Label string `json:"label" mapstructure:"label" validate:"required"`
	Path  string `json:"path" mapstructure:"path" validate:"required"`
}

// CategoryState is the outcome of the last pass over a category
type CategoryState struct {
	Category     string    `json:"category" db:"category"`
	LastPassAt   time.Time `json:"last_pass_at" db:"last_pass_at"`
	LastStatus   string    `json:"last_status" db:"last_status"`
	LastError    string    `json:"last_error,omitempty" db:"last_error"`
	ProductCount int       `json:"product_count" db:"product_count"`
	NewCount     int       `json:"new_count" db:"new_count"`
	EvictedCount int       `json:"evicted_count" db:"evicted_count"`
}

const (
	CategoryStatusOK     = "ok"
	CategoryStatusFailed = "failed"
)
