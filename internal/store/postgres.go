package store

import (
	"context"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-geocoder/internal/model"
)

// PostgresStore implements Store using pgxpool. Venues live in a table of
// (id, doc) where doc is the venue document as JSONB.
type PostgresStore struct {
	pool    pgPool
	table   string
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool of maxConns
// connections, at least two: Find holds one for the whole stream while
// UpdateGeolocation needs another.
func NewPostgres(ctx context.Context, connString, table string, maxConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = poolSize(maxConns)
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, table: pgx.Identifier{table}.Sanitize(), closeFn: pool.Close}, nil
}

func poolSize(maxConns int32) int32 {
	switch {
	case maxConns <= 0:
		return 10
	case maxConns < 2:
		return 2
	default:
		return maxConns
	}
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
)`)
	return eris.Wrap(err, "postgres: init schema")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, f Filter) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table+postgresWhere(f)).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count venues")
	}
	return n, nil
}

func (s *PostgresStore) Find(ctx context.Context, f Filter) iter.Seq2[model.Venue, error] {
	return func(yield func(model.Venue, error) bool) {
		rows, err := s.pool.Query(ctx, `SELECT id, doc FROM `+s.table+postgresWhere(f)+` ORDER BY id`)
		if err != nil {
			yield(model.Venue{}, eris.Wrap(err, "postgres: find venues"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id  string
				doc []byte
			)
			if err := rows.Scan(&id, &doc); err != nil {
				yield(model.Venue{}, eris.Wrap(err, "postgres: scan venue"))
				return
			}
			if !yield(decodeVenueDoc(id, doc)) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Venue{}, eris.Wrap(err, "postgres: iterate venues"))
		}
	}
}

func (s *PostgresStore) UpdateGeolocation(ctx context.Context, id string, candidates []model.Candidate) error {
	geo, err := encodeCandidates(candidates)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table+` SET doc = jsonb_set(doc, '{geolocation}', $2::jsonb, true) WHERE id = $1`,
		id, geo,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update geolocation for venue %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "venue %s", id)
	}
	return nil
}

// postgresWhere mirrors sqliteWhere: arrays with non-object elements stay
// pending so they surface as malformed records.
func postgresWhere(f Filter) string {
	if !f.PendingOnly {
		return ""
	}
	pending := `EXISTS (SELECT 1 FROM jsonb_array_elements(doc->'geolocation') AS e(v) WHERE jsonb_typeof(e.v) <> 'object')`
	if !f.EmptyIsMigrated {
		pending = `jsonb_array_length(doc->'geolocation') = 0 OR ` + pending
	}
	return ` WHERE CASE jsonb_typeof(doc->'geolocation') WHEN 'array' THEN ` + pending + ` ELSE true END`
}
