// Package model defines the entities shared by the crawl and enrichment layers.
package model

import (
	"fmt"
	"time"
)

// LocalityUnknown marks a firm whose address could not be geocoded. Terminal:
// firms carrying it are never re-queried automatically.
const LocalityUnknown = "<UNKNOWN>"

// Coordinates is a WGS84 centroid.
type Coordinates struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lng float64 `yaml:"lng" json:"lng"`
}

// String renders coordinates in the "lat lng" storage format.
func (c Coordinates) String() string {
	return fmt.Sprintf("%g %g", c.Lat, c.Lng)
}

// Firm is a business discovered on a listing page, keyed by name. Locality
// and Coordinates stay nil until the enrichment pipeline resolves them.
type Firm struct {
	ID          string       `yaml:"id" json:"id"`
	Name        string       `yaml:"name" json:"name"`
	Address     string       `yaml:"address" json:"address"`
	Locality    *string      `yaml:"locality,omitempty" json:"locality,omitempty"`
	Coordinates *Coordinates `yaml:"coordinates,omitempty" json:"coordinates,omitempty"`
	CreatedAt   time.Time    `yaml:"created_at" json:"created_at"`
}

// Listing records one occurrence of a firm under a category/subcategory pair.
// Many listings may reference the same firm.
type Listing struct {
	ID          string    `yaml:"id" json:"id"`
	Category    string    `yaml:"category" json:"category"`
	Subcategory string    `yaml:"subcategory" json:"subcategory"`
	FirmID      string    `yaml:"firm_id" json:"firm_id"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
}

// Locality is a normalized place name with its centroid. Created at most once
// per distinct normalized name and immutable afterwards.
type Locality struct {
	ID        string      `yaml:"id" json:"id"`
	Name      string      `yaml:"name" json:"name"`
	Centroid  Coordinates `yaml:"centroid" json:"centroid"`
	CreatedAt time.Time   `yaml:"created_at" json:"created_at"`
}
