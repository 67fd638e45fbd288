// Package model defines the venue records the geocoder reads and enriches.
package model

// Address is the structured postal address stored on a venue.
type Address struct {
	Line1    string `json:"line1" bson:"line1"`
	Line2    string `json:"line2,omitempty" bson:"line2,omitempty"`
	City     string `json:"city" bson:"city"`
	Country  string `json:"country" bson:"country"`
	PostCode string `json:"postCode" bson:"postCode"`
}

// Candidate is one geocoding match returned by a provider.
type Candidate struct {
	Lat              float64 `json:"lat" bson:"lat"`
	Lng              float64 `json:"lng" bson:"lng"`
	FormattedAddress string  `json:"formattedAddress" bson:"formattedAddress"`
	PlaceID          string  `json:"placeId,omitempty" bson:"placeId,omitempty"`
	LocationType     string  `json:"locationType,omitempty" bson:"locationType,omitempty"`
}

// Venue is a venue record as read from the store.
type Venue struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address Address `json:"address"`

	// Geolocation holds the stored candidate list, in provider order.
	Geolocation []Candidate `json:"geolocation,omitempty"`

	// HasGeolocation reports whether the geolocation field is present on the
	// stored document at all, including as an empty list.
	HasGeolocation bool `json:"-"`
}

// Enriched reports whether the venue already carries geolocation data.
// A stored empty list only counts when emptyIsMigrated is set.
func (v Venue) Enriched(emptyIsMigrated bool) bool {
	if emptyIsMigrated {
		return v.HasGeolocation
	}
	return len(v.Geolocation) > 0
}
