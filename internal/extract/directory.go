package extract

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
)

// DirectoryStrategy extracts the business directory's markup: category links
// on the landing page, paginated subcategory listings, and firm entries whose
// text arrives UTF-8 mislabeled as Latin-1.
type DirectoryStrategy struct{}

// NewDirectoryStrategy returns the production extraction strategy.
func NewDirectoryStrategy() *DirectoryStrategy { return &DirectoryStrategy{} }

func parseDoc(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}
	return doc, nil
}

// CategoryLinks implements Strategy.
func (d *DirectoryStrategy) CategoryLinks(body []byte) ([]string, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return nil, err
	}
	var links []string
	doc.Find("#top_categories li > h4 > a").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return links, nil
}

// SubcategoryLinks implements Strategy.
func (d *DirectoryStrategy) SubcategoryLinks(body []byte) ([]string, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return nil, err
	}
	var links []string
	doc.Find("ul.prds > li > a").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return links, nil
}

// Title implements Strategy.
func (d *DirectoryStrategy) Title(body []byte) (string, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return "", err
	}
	h1 := doc.Find("h1").First()
	if h1.Length() == 0 {
		return "", eris.New("extract: page has no h1 heading")
	}
	return strings.TrimSpace(h1.Text()), nil
}

// MaxPage implements Strategy. The pagination control's last anchor is the
// Next button; the one before it carries the highest page number.
func (d *DirectoryStrategy) MaxPage(body []byte) (int, error) {
	doc, err := parseDoc(body)
	if err != nil {
		return 0, err
	}
	anchors := doc.Find("div.pages_nav > a")
	if anchors.Length() < 2 {
		return 1, nil
	}
	text := strings.TrimSpace(anchors.Eq(anchors.Length() - 2).Text())
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, eris.Wrapf(err, "extract: pagination label %q is not a page number", text)
	}
	return n, nil
}

// Listings implements Strategy. The site declares a Latin-1 charset while
// serving UTF-8 bytes, so the page is first read under the declared charset
// (what any conforming client sees) and each listing's text is repaired back
// to UTF-8 individually.
func (d *DirectoryStrategy) Listings(body []byte) ([]ListingResult, error) {
	legacy, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return nil, eris.Wrap(err, "extract: decode page charset")
	}
	doc, err := parseDoc(legacy)
	if err != nil {
		return nil, err
	}
	var results []ListingResult
	doc.Find("ul.firms > li").Each(func(_ int, sel *goquery.Selection) {
		name, nameErr := decodeLegacy(strings.TrimSpace(sel.Find("div.title a").First().Text()))
		addr, addrErr := decodeLegacy(strings.TrimSpace(sel.Find("div.address").First().Text()))
		if nameErr != nil {
			results = append(results, ListingResult{Err: nameErr})
			return
		}
		if addrErr != nil {
			results = append(results, ListingResult{Err: addrErr})
			return
		}
		results = append(results, ListingResult{Listing: Listing{Name: name, Address: addr}})
	})
	return results, nil
}

// decodeLegacy repairs text the site serves as UTF-8 bytes under a Latin-1
// charset declaration: the mis-decoded runes are folded back to their
// original bytes and re-read as UTF-8. Text that does not survive the round
// trip is a decoding error for the caller to skip.
func decodeLegacy(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return "", eris.Wrapf(err, "extract: text %q is not legacy-encoded", truncate(s))
	}
	if !utf8.ValidString(raw) {
		return "", eris.Errorf("extract: text %q does not decode as utf-8", truncate(s))
	}
	return raw, nil
}

func truncate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
