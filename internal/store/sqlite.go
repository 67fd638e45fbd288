package store

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/venue-geocoder/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Each venue is a row
// of (id, doc) where doc holds the venue document as JSON text.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Pragmas go in the DSN so every pooled connection gets them.
func NewSQLite(path, table string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, table: quoteIdent(table)}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS `+s.table+` (
	id  TEXT PRIMARY KEY,
	doc TEXT NOT NULL
)`)
	return eris.Wrap(err, "sqlite: init schema")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+s.table+sqliteWhere(f)).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count venues")
	}
	return n, nil
}

func (s *SQLiteStore) Find(ctx context.Context, f Filter) iter.Seq2[model.Venue, error] {
	return func(yield func(model.Venue, error) bool) {
		rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM `+s.table+sqliteWhere(f)+` ORDER BY rowid`)
		if err != nil {
			yield(model.Venue{}, eris.Wrap(err, "sqlite: find venues"))
			return
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			var id, doc string
			if err := rows.Scan(&id, &doc); err != nil {
				yield(model.Venue{}, eris.Wrap(err, "sqlite: scan venue"))
				return
			}
			if !yield(decodeVenueDoc(id, []byte(doc))) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Venue{}, eris.Wrap(err, "sqlite: iterate venues"))
		}
	}
}

func (s *SQLiteStore) UpdateGeolocation(ctx context.Context, id string, candidates []model.Candidate) error {
	geo, err := encodeCandidates(candidates)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+s.table+` SET doc = json_set(doc, '$.geolocation', json(?)) WHERE id = ?`,
		geo, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update geolocation for venue %s", id)
	}
	return checkRowsAffected(res, id)
}

// Insert stores a raw venue document. Used to load fixtures and local data.
func (s *SQLiteStore) Insert(ctx context.Context, id string, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO `+s.table+` (id, doc) VALUES (?, ?)`, id, string(doc))
	return eris.Wrapf(err, "sqlite: insert venue %s", id)
}

// Document returns the raw stored document for a venue.
func (s *SQLiteStore) Document(ctx context.Context, id string) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM `+s.table+` WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get venue %s", id)
	}
	return []byte(doc), nil
}

// sqliteWhere returns the WHERE clause selecting venues that still need
// enrichment, or "" when every venue is wanted. Documents that would not
// decode (invalid JSON, a non-array geolocation, or array elements that are
// not objects) count as pending so the driver reports them as a full scan
// would.
func sqliteWhere(f Filter) string {
	if !f.PendingOnly {
		return ""
	}
	pending := `EXISTS (SELECT 1 FROM json_each(doc, '$.geolocation') WHERE json_each.type <> 'object')`
	if !f.EmptyIsMigrated {
		pending = `json_array_length(doc, '$.geolocation') = 0 OR ` + pending
	}
	return ` WHERE CASE
	WHEN NOT json_valid(doc) THEN 1
	WHEN json_type(doc, '$.geolocation') IS NULL THEN 1
	WHEN json_type(doc, '$.geolocation') = 'null' THEN 1
	WHEN json_type(doc, '$.geolocation') = 'array' THEN ` + pending + `
	ELSE 1
END`
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "store: rows affected for venue %s", id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "venue %s", id)
	}
	return nil
}
