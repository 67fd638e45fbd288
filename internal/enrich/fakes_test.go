package enrich

import (
	"context"
	"iter"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-geocoder/internal/model"
	"github.com/sells-group/venue-geocoder/internal/store"
)

// memItem is one entry in the fake store cursor: a venue or a decode error.
type memItem struct {
	venue model.Venue
	err   error
}

// memStore is an in-memory Store. Writes update the venue in place so a second
// run sees the enriched record.
type memStore struct {
	mu    sync.Mutex
	items []memItem

	countErr  error
	findErr   error // yielded after findErrAt items
	findErrAt int

	writeErrs  map[string]error
	writes     map[string]int
	lastFilter store.Filter
	finds      int
}

func newMemStore(venues ...model.Venue) *memStore {
	s := &memStore{writeErrs: map[string]error{}, writes: map[string]int{}, findErrAt: -1}
	for _, v := range venues {
		s.items = append(s.items, memItem{venue: v})
	}
	return s
}

func (s *memStore) addMalformed(id string) {
	s.items = append(s.items, memItem{
		venue: model.Venue{ID: id},
		err:   &store.MalformedRecordError{ID: id, Err: eris.New("json: cannot unmarshal string")},
	})
}

func (s *memStore) matches(it memItem, f store.Filter) bool {
	if !f.PendingOnly || it.err != nil {
		return true
	}
	return !it.venue.Enriched(f.EmptyIsMigrated)
}

func (s *memStore) Count(_ context.Context, f store.Filter) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, it := range s.items {
		if s.matches(it, f) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) Find(_ context.Context, f store.Filter) iter.Seq2[model.Venue, error] {
	return func(yield func(model.Venue, error) bool) {
		s.mu.Lock()
		s.finds++
		s.lastFilter = f
		snapshot := make([]memItem, len(s.items))
		copy(snapshot, s.items)
		s.mu.Unlock()

		for i, it := range snapshot {
			if i == s.findErrAt {
				yield(model.Venue{}, s.findErr)
				return
			}
			if !s.matches(it, f) {
				continue
			}
			if it.err != nil {
				if !yield(model.Venue{}, it.err) {
					return
				}
				continue
			}
			if !yield(it.venue, nil) {
				return
			}
		}
	}
}

func (s *memStore) UpdateGeolocation(ctx context.Context, id string, candidates []model.Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErrs[id]; err != nil {
		return err
	}
	for i := range s.items {
		if s.items[i].venue.ID == id && s.items[i].err == nil {
			s.items[i].venue.Geolocation = append([]model.Candidate{}, candidates...)
			s.items[i].venue.HasGeolocation = true
			s.writes[id]++
			return nil
		}
	}
	return eris.Wrapf(store.ErrNotFound, "venue %s", id)
}

func (s *memStore) venue(id string) model.Venue {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.venue.ID == id {
			return it.venue
		}
	}
	return model.Venue{}
}

func (s *memStore) writeCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[id]
}

func (s *memStore) totalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.writes {
		n += c
	}
	return n
}

// geocoderFunc adapts a function to geocode.Client and counts calls.
type geocoderFunc struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, address string) ([]model.Candidate, error)
}

func (g *geocoderFunc) Resolve(ctx context.Context, address string) ([]model.Candidate, error) {
	g.mu.Lock()
	g.calls = append(g.calls, address)
	g.mu.Unlock()
	return g.fn(ctx, address)
}

func (g *geocoderFunc) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// recorderMap collects ObserveRecords calls.
type recorderMap struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *recorderMap) ObserveRecords(outcome string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[outcome] += n
}
