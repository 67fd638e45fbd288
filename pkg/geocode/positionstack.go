package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-geocoder/internal/model"
)

const positionstackURL = "http://api.positionstack.com/v1"

type positionstackResponse struct {
	// Data is usually a list of results, but the API answers an unmatched
	// query with [[]], so elements are decoded one at a time.
	Data []json.RawMessage `json:"data"`
}

type positionstackResult struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label"`
	Type      string  `json:"type"`
}

type positionstackProvider struct {
	key     string
	baseURL string
}

func (p *positionstackProvider) name() string { return "positionstack" }

func (p *positionstackProvider) lookup(ctx context.Context, hc *http.Client, address string) ([]model.Candidate, error) {
	params := url.Values{
		"access_key": {p.key},
		"query":      {address},
		"limit":      {"10"},
	}

	var resp positionstackResponse
	if err := getJSON(ctx, hc, p.name(), p.baseURL+"/forward?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	candidates := make([]model.Candidate, 0, len(resp.Data))
	for _, raw := range resp.Data {
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			continue
		}
		var r positionstackResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, &ProviderError{Provider: p.name(), StatusCode: http.StatusOK, Err: eris.Wrap(err, "parse result")}
		}
		candidates = append(candidates, model.Candidate{
			Lat:              r.Latitude,
			Lng:              r.Longitude,
			FormattedAddress: r.Label,
			LocationType:     r.Type,
		})
	}
	return candidates, nil
}
