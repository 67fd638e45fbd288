// Package store reads venue records from and writes geolocation back to the
// venue document store. MongoDB is the production backend; Postgres (JSONB)
// and SQLite (JSON text) hold the same documents for staging and local runs.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-geocoder/internal/model"
)

// ErrNotFound is returned when an update matches no record.
var ErrNotFound = eris.New("store: record not found")

// Filter narrows which venues Count and Find return.
type Filter struct {
	// PendingOnly restricts results to venues that still need enrichment.
	PendingOnly bool
	// EmptyIsMigrated treats a stored empty geolocation list as enriched.
	EmptyIsMigrated bool
}

// Store defines the persistence interface for venue enrichment.
type Store interface {
	// Count returns the number of venues matching f.
	Count(ctx context.Context, f Filter) (int64, error)

	// Find streams venues matching f. A record that cannot be decoded is
	// yielded as a *MalformedRecordError and iteration continues; any other
	// error ends the sequence.
	Find(ctx context.Context, f Filter) iter.Seq2[model.Venue, error]

	// UpdateGeolocation sets the geolocation field of one venue, leaving every
	// other field untouched. Returns ErrNotFound if no venue has the id.
	UpdateGeolocation(ctx context.Context, id string, candidates []model.Candidate) error

	// InitSchema creates the backing table if the backend needs one.
	InitSchema(ctx context.Context) error
	Close() error
}

// MalformedRecordError reports a stored venue whose document could not be
// decoded into a Venue.
type MalformedRecordError struct {
	ID  string
	Err error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("store: malformed venue %s: %v", e.ID, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// pgPool is the subset of pgxpool.Pool used by PostgresStore.
type pgPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close()
}

// venueDoc is the JSON document shape shared by the SQL backends.
type venueDoc struct {
	Name        string             `json:"name"`
	Address     model.Address      `json:"address"`
	Geolocation *[]model.Candidate `json:"geolocation"`
}

func decodeVenueDoc(id string, data []byte) (model.Venue, error) {
	var doc venueDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.Venue{ID: id}, &MalformedRecordError{ID: id, Err: err}
	}
	v := model.Venue{ID: id, Name: doc.Name, Address: doc.Address}
	if doc.Geolocation != nil {
		v.Geolocation = *doc.Geolocation
		v.HasGeolocation = true
	}
	return v, nil
}

// encodeCandidates marshals candidates as a JSON array, never null.
func encodeCandidates(candidates []model.Candidate) (string, error) {
	if candidates == nil {
		candidates = []model.Candidate{}
	}
	data, err := json.Marshal(candidates)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal geolocation")
	}
	return string(data), nil
}
