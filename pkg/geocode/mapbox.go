package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sells-group/venue-geocoder/internal/model"
)

const mapboxGeocodeURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Mapbox API response types.

type mapboxResponse struct {
	Features []mapboxFeature `json:"features"`
}

type mapboxFeature struct {
	ID        string    `json:"id"`
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	PlaceType []string  `json:"place_type"`
}

type mapboxProvider struct {
	token   string
	baseURL string
}

func (p *mapboxProvider) name() string { return "mapbox" }

func (p *mapboxProvider) lookup(ctx context.Context, hc *http.Client, address string) ([]model.Candidate, error) {
	u := fmt.Sprintf("%s/%s.json", p.baseURL, url.PathEscape(address))
	params := url.Values{
		"access_token": {p.token},
		"limit":        {"5"},
	}

	var resp mapboxResponse
	if err := getJSON(ctx, hc, p.name(), u+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	candidates := make([]model.Candidate, 0, len(resp.Features))
	for _, f := range resp.Features {
		if len(f.Center) != 2 {
			continue
		}
		c := model.Candidate{
			Lat:              f.Center[1],
			Lng:              f.Center[0],
			FormattedAddress: f.PlaceName,
			PlaceID:          f.ID,
		}
		if len(f.PlaceType) > 0 {
			c.LocationType = f.PlaceType[0]
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
