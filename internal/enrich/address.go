package enrich

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-geocoder/internal/model"
)

// ErrIncompleteAddress is returned when a required address field is blank.
var ErrIncompleteAddress = eris.New("enrich: incomplete address")

// FormatAddress renders addr as "line1, [line2,] city, country, postCode".
// Fields are trimmed; a blank line2 is left out. If any of line1, city,
// country or postCode is blank the error names every missing field.
func FormatAddress(addr model.Address) (string, error) {
	line1 := strings.TrimSpace(addr.Line1)
	line2 := strings.TrimSpace(addr.Line2)
	city := strings.TrimSpace(addr.City)
	country := strings.TrimSpace(addr.Country)
	postCode := strings.TrimSpace(addr.PostCode)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"line1", line1},
		{"city", city},
		{"country", country},
		{"postCode", postCode},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return "", eris.Wrapf(ErrIncompleteAddress, "missing %s", strings.Join(missing, ", "))
	}

	parts := make([]string, 0, 5)
	parts = append(parts, line1)
	if line2 != "" {
		parts = append(parts, line2)
	}
	parts = append(parts, city, country, postCode)
	return strings.Join(parts, ", "), nil
}
