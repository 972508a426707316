package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

const landingHTML = `<html><body>
<div id="top_categories">
	<ul>
		<li><h4><a href="/machinery.htm">Machinery</a></h4></li>
		<li><h4><a href="/textile.htm">Textile</a></h4></li>
		<li><h4><a>no href</a></h4></li>
		<li><a href="/not-in-h4.htm">skipped</a></li>
	</ul>
</div>
</body></html>`

func TestCategoryLinks(t *testing.T) {
	s := NewDirectoryStrategy()
	links, err := s.CategoryLinks([]byte(landingHTML))
	require.NoError(t, err)
	assert.Equal(t, []string{"/machinery.htm", "/textile.htm"}, links)
}

func TestSubcategoryLinks(t *testing.T) {
	html := `<html><body>
	<ul class="prds">
		<li><a href="/machinery/pumps.html">Pumps</a></li>
		<li><a href="/machinery/gears.html">Gears</a></li>
	</ul>
	<ul class="other"><li><a href="/nope.html">x</a></li></ul>
	</body></html>`

	s := NewDirectoryStrategy()
	links, err := s.SubcategoryLinks([]byte(html))
	require.NoError(t, err)
	assert.Equal(t, []string{"/machinery/pumps.html", "/machinery/gears.html"}, links)
}

func TestTitle(t *testing.T) {
	s := NewDirectoryStrategy()

	title, err := s.Title([]byte(`<html><body><h1> Machinery </h1><h1>second</h1></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Machinery", title)

	_, err = s.Title([]byte(`<html><body><p>no heading</p></body></html>`))
	assert.Error(t, err)
}

func TestMaxPage(t *testing.T) {
	s := NewDirectoryStrategy()

	html := `<html><body><div class="pages_nav">
		<a href="?p=1">1</a><a href="?p=2">2</a><a href="?p=7">7</a><a href="?p=2">Next</a>
	</div></body></html>`
	n, err := s.MaxPage([]byte(html))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestMaxPageNoPagination(t *testing.T) {
	s := NewDirectoryStrategy()

	n, err := s.MaxPage([]byte(`<html><body></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a page without a pager is its own single page")

	n, err = s.MaxPage([]byte(`<html><body><div class="pages_nav"><a>Next</a></div></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMaxPageMalformedLabel(t *testing.T) {
	s := NewDirectoryStrategy()
	html := `<html><body><div class="pages_nav"><a>prev</a><a>last</a><a>Next</a></div></body></html>`
	_, err := s.MaxPage([]byte(html))
	assert.Error(t, err)
}

func TestListingsRepairsMislabeledText(t *testing.T) {
	// The site serves UTF-8 bytes under a Latin-1 charset declaration; the
	// raw fixture below is what actually travels on the wire.
	html := `<html><body><ul class="firms">
	<li>
		<div class="title"><a href="/firm/1">Üsküdar Makina Sanayi</a></div>
		<div class="address">Çamlıca Mah. No:12, İstanbul</div>
	</li>
	<li>
		<div class="title"><a href="/firm/2">Plain Ascii Ltd</a></div>
		<div class="address">1 Industrial Rd</div>
	</li>
	</ul></body></html>`

	s := NewDirectoryStrategy()
	results, err := s.Listings([]byte(html))
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NoError(t, results[0].Err)
	assert.Equal(t, "Üsküdar Makina Sanayi", results[0].Listing.Name)
	assert.Equal(t, "Çamlıca Mah. No:12, İstanbul", results[0].Listing.Address)

	require.NoError(t, results[1].Err)
	assert.Equal(t, "Plain Ascii Ltd", results[1].Listing.Name)
	assert.Equal(t, "1 Industrial Rd", results[1].Listing.Address)
}

func TestListingsFlagsUnrepairableText(t *testing.T) {
	// A genuinely Latin-1 byte sequence does not round-trip to valid UTF-8;
	// the item carries an error while its siblings decode fine.
	html := "<html><body><ul class=\"firms\">" +
		"<li><div class=\"title\"><a>Broken \xdc Co</a></div><div class=\"address\">x</div></li>" +
		"<li><div class=\"title\"><a>Fine Co</a></div><div class=\"address\">y</div></li>" +
		"</ul></body></html>"

	s := NewDirectoryStrategy()
	results, err := s.Listings([]byte(html))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "Fine Co", results[1].Listing.Name)
}

func TestListingsEmptyPage(t *testing.T) {
	s := NewDirectoryStrategy()
	results, err := s.Listings([]byte(`<html><body><p>nothing here</p></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDecodeLegacy(t *testing.T) {
	// "Üsküdar" read under Latin-1 comes out as mojibake; the repair folds it
	// back.
	mojibake, err := charmap.ISO8859_1.NewDecoder().String("Üsküdar")
	require.NoError(t, err)
	got, err := decodeLegacy(mojibake)
	require.NoError(t, err)
	assert.Equal(t, "Üsküdar", got)

	got, err = decodeLegacy("plain ascii")
	require.NoError(t, err)
	assert.Equal(t, "plain ascii", got)

	got, err = decodeLegacy("")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = decodeLegacy("Ü alone")
	assert.Error(t, err, "bare Latin-1 text does not round-trip")
}
