// Package extract defines the pluggable page-extraction strategy consumed by
// the crawl expander, plus the goquery implementation for the directory's
// markup. Strategies are pure: bytes in, values out, no side effects.
package extract

// Listing is one firm entry on a leaf listing page.
type Listing struct {
	Name    string
	Address string
}

// ListingResult carries either a decoded listing or the per-item decoding
// error. The expander catches item errors individually so one malformed
// entry never aborts its page.
type ListingResult struct {
	Listing Listing
	Err     error
}

// Strategy extracts stage-specific content from a fetched page body.
type Strategy interface {
	// CategoryLinks returns the top-level category URLs from the landing page.
	CategoryLinks(body []byte) ([]string, error)

	// SubcategoryLinks returns subcategory URLs from a category listing page.
	SubcategoryLinks(body []byte) ([]string, error)

	// Title returns the page heading used as the category/subcategory name.
	Title(body []byte) (string, error)

	// MaxPage reads the pagination control and returns the highest page
	// number, or 1 when the page has no pagination.
	MaxPage(body []byte) (int, error)

	// Listings returns the firm entries of a leaf listing page, each with
	// its own decode outcome.
	Listings(body []byte) ([]ListingResult, error)
}
