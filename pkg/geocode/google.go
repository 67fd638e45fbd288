package geocode

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-geocoder/internal/model"
	"github.com/sells-group/venue-geocoder/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
	PlaceID          string `json:"place_id"`
}

type googleProvider struct {
	key     string
	baseURL string
}

func (p *googleProvider) name() string { return "google" }

// lookup geocodes one address with the Google Geocoding API and returns every
// result in the order Google ranked them.
func (p *googleProvider) lookup(ctx context.Context, hc *http.Client, address string) ([]model.Candidate, error) {
	params := url.Values{
		"address": {address},
		"key":     {p.key},
	}

	var resp googleGeocodeResponse
	if err := getJSON(ctx, hc, p.name(), p.baseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return []model.Candidate{}, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, &ProviderError{
			Provider: p.name(),
			Err:      resilience.NewTransientError(eris.Errorf("%s: %s", resp.Status, resp.ErrorMessage), http.StatusTooManyRequests),
		}
	default:
		// REQUEST_DENIED, INVALID_REQUEST, OVER_DAILY_LIMIT: retrying won't help.
		return nil, &ProviderError{Provider: p.name(), Err: eris.Errorf("%s: %s", resp.Status, resp.ErrorMessage)}
	}

	candidates := make([]model.Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		candidates = append(candidates, model.Candidate{
			Lat:              r.Geometry.Location.Lat,
			Lng:              r.Geometry.Location.Lng,
			FormattedAddress: r.FormattedAddress,
			PlaceID:          r.PlaceID,
			LocationType:     r.Geometry.LocationType,
		})
	}
	return candidates, nil
}
