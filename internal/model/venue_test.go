package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVenueEnriched(t *testing.T) {
	t.Parallel()

	one := []Candidate{{Lat: 51.5, Lng: -0.12, FormattedAddress: "London"}}

	tests := []struct {
		name            string
		venue           Venue
		emptyIsMigrated bool
		want            bool
	}{
		{"absent", Venue{}, false, false},
		{"absent empty counts", Venue{}, true, false},
		{"stored empty", Venue{HasGeolocation: true, Geolocation: []Candidate{}}, false, false},
		{"stored empty counts", Venue{HasGeolocation: true, Geolocation: []Candidate{}}, true, true},
		{"candidates", Venue{HasGeolocation: true, Geolocation: one}, false, true},
		{"candidates empty counts", Venue{HasGeolocation: true, Geolocation: one}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.venue.Enriched(tt.emptyIsMigrated))
		})
	}
}

func TestAddressJSONKeys(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Address{Line1: "10 Main St", City: "Springfield", Country: "US", PostCode: "00000"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"line1":"10 Main St","city":"Springfield","country":"US","postCode":"00000"}`, string(data))
}
