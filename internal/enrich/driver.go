// Package enrich runs the one-time venue geolocation migration: every venue
// without geolocation is formatted, geocoded and written back, with failures
// isolated to the record they occur on.
package enrich

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/venue-geocoder/internal/model"
	"github.com/sells-group/venue-geocoder/internal/store"
	"github.com/sells-group/venue-geocoder/pkg/geocode"
)

var (
	// ErrWrite marks a record whose geolocation update was rejected.
	ErrWrite = eris.New("enrich: write geolocation")
	// ErrStoreUnavailable is returned when the store cannot be counted or
	// enumerated. It aborts the run.
	ErrStoreUnavailable = eris.New("enrich: store unavailable")
	// ErrInterrupted is returned when the run context ends before the
	// enumeration does.
	ErrInterrupted = eris.New("enrich: run interrupted")
)

const defaultWriteTimeout = 30 * time.Second

// runError pairs a package sentinel with the underlying cause. errors.Is
// matches either one, so callers can test for ErrWrite and for
// store.ErrNotFound on the same error.
type runError struct {
	kind  error
	stage string
	cause error
}

func newRunError(kind error, stage string, cause error) error {
	return &runError{kind: kind, stage: stage, cause: cause}
}

func (e *runError) Error() string {
	if e.stage == "" {
		return e.kind.Error() + ": " + e.cause.Error()
	}
	return e.kind.Error() + ": " + e.stage + ": " + e.cause.Error()
}

func (e *runError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// Store is the part of the venue store the driver uses.
type Store interface {
	Count(ctx context.Context, f store.Filter) (int64, error)
	Find(ctx context.Context, f store.Filter) iter.Seq2[model.Venue, error]
	UpdateGeolocation(ctx context.Context, id string, candidates []model.Candidate) error
}

// Recorder receives record outcome counts.
type Recorder interface {
	ObserveRecords(outcome string, n int)
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithClock sets the clock used for run timing.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Driver) { d.clock = clock }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithConcurrency caps the number of records processed at once.
func WithConcurrency(n int) Option {
	return func(d *Driver) { d.concurrency = n }
}

// WithPendingOnly asks the store to return only venues that need enrichment.
// Venues it filters out are still counted as skipped.
func WithPendingOnly(v bool) Option {
	return func(d *Driver) { d.pendingOnly = v }
}

// WithEmptyIsMigrated treats a stored empty geolocation list as enriched.
func WithEmptyIsMigrated(v bool) Option {
	return func(d *Driver) { d.emptyIsMigrated = v }
}

// WithWriteTimeout bounds each geolocation update. The update outlives
// cancellation of the run context so a completed lookup is not discarded.
func WithWriteTimeout(d time.Duration) Option {
	return func(dr *Driver) { dr.writeTimeout = d }
}

// Driver enriches venues with geolocation.
type Driver struct {
	store    Store
	geocoder geocode.Client

	logger          *zap.Logger
	clock           clockwork.Clock
	recorder        Recorder
	concurrency     int
	pendingOnly     bool
	emptyIsMigrated bool
	writeTimeout    time.Duration
}

// NewDriver creates a Driver reading from st and resolving through gc.
func NewDriver(st Store, gc geocode.Client, opts ...Option) *Driver {
	d := &Driver{
		store:        st,
		geocoder:     gc,
		logger:       zap.L(),
		clock:        clockwork.NewRealClock(),
		concurrency:  4,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.concurrency < 1 {
		d.concurrency = 1
	}
	if d.writeTimeout <= 0 {
		d.writeTimeout = defaultWriteTimeout
	}
	return d
}

// Run processes the current venue set once. The returned report is never nil.
// A non-nil error means the run was aborted: ErrStoreUnavailable when the store
// could not be read, or the context error on cancellation. Records finished
// before the abort stay committed.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	report := newReport(uuid.NewString(), d.clock.Now())
	defer func() { report.FinishedAt = d.clock.Now() }()

	log := d.logger.With(zap.String("run_id", report.RunID))
	all := store.Filter{EmptyIsMigrated: d.emptyIsMigrated}

	log.Info("loading venues")
	total, err := d.store.Count(ctx, all)
	if err != nil {
		return report, newRunError(ErrStoreUnavailable, "count venues", err)
	}
	if total == 0 {
		log.Info("could not find any venues")
		return report, nil
	}
	log.Info("found venues", zap.Int64("count", total))

	filter := all
	if d.pendingOnly {
		filter.PendingOnly = true
		pending, err := d.store.Count(ctx, filter)
		if err != nil {
			return report, newRunError(ErrStoreUnavailable, "count pending venues", err)
		}
		if skipped := int(total - pending); skipped > 0 {
			report.addSkipped(skipped)
			d.observe(string(StateSkipped), skipped)
			log.Info("venues already migrated", zap.Int("count", skipped))
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)

	seen := make(map[string]struct{})
	var findErr error

	for v, err := range d.store.Find(ctx, filter) {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			var mre *store.MalformedRecordError
			if !errors.As(err, &mre) {
				findErr = err
				break
			}
			if !d.firstSighting(seen, mre.ID, log) {
				continue
			}
			log.Warn("venue record malformed", zap.String("venue_id", mre.ID), zap.Error(err))
			d.finish(report, Outcome{VenueID: mre.ID, State: StateFailed, Reason: ReasonIncompleteAddress, Err: err})
			continue
		}
		if !d.firstSighting(seen, v.ID, log) {
			continue
		}

		g.Go(func() error {
			d.finish(report, d.process(ctx, log, v))
			return nil
		})
	}

	_ = g.Wait()

	if findErr != nil && ctx.Err() == nil {
		log.Error("venue enumeration failed", zap.Error(findErr))
		return report, newRunError(ErrStoreUnavailable, "find venues", findErr)
	}
	if err := ctx.Err(); err != nil {
		log.Warn("run interrupted", zap.Int("processed", report.Total))
		return report, newRunError(ErrInterrupted, "", err)
	}

	log.Info("run complete",
		zap.Int("total", report.Total),
		zap.Int("skipped", report.Skipped),
		zap.Int("done", report.Done),
		zap.Int("failed", report.Failed()),
	)
	return report, nil
}

// process drives one venue from Pending to a terminal state.
func (d *Driver) process(ctx context.Context, log *zap.Logger, v model.Venue) Outcome {
	log = log.With(zap.String("venue_id", v.ID), zap.String("venue", v.Name))
	out := Outcome{VenueID: v.ID, Name: v.Name, State: StatePending}

	if v.Enriched(d.emptyIsMigrated) {
		log.Info("venue already migrated")
		out.State = StateSkipped
		return out
	}

	out.State = StateFormatting
	address, err := FormatAddress(v.Address)
	if err != nil {
		log.Warn("venue address incomplete", zap.Error(err))
		return out.fail(ReasonIncompleteAddress, err)
	}

	out.State = StateGeocoding
	log.Info("geocoding venue", zap.String("address", address))
	candidates, err := d.geocoder.Resolve(ctx, address)
	if err != nil {
		log.Warn("geocode failed", zap.Error(err))
		return out.fail(ReasonProviderError, err)
	}

	out.State = StatePersisting
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.writeTimeout)
	defer cancel()
	if err := d.store.UpdateGeolocation(wctx, v.ID, candidates); err != nil {
		log.Error("geolocation write failed", zap.Error(err))
		return out.fail(ReasonWriteError, newRunError(ErrWrite, "", err))
	}

	out.State = StateDone
	out.Candidates = len(candidates)
	if out.Candidates == 0 {
		log.Info("venue completed without match")
	} else {
		log.Info("venue completed", zap.Int("candidates", out.Candidates))
	}
	return out
}

func (o Outcome) fail(reason Reason, err error) Outcome {
	o.State = StateFailed
	o.Reason = reason
	o.Err = err
	return o
}

func (d *Driver) firstSighting(seen map[string]struct{}, id string, log *zap.Logger) bool {
	if _, dup := seen[id]; dup {
		log.Warn("venue returned twice by store, ignoring", zap.String("venue_id", id))
		return false
	}
	seen[id] = struct{}{}
	return true
}

func (d *Driver) finish(report *Report, o Outcome) {
	report.add(o)
	d.observe(outcomeLabel(o), 1)
}

func (d *Driver) observe(outcome string, n int) {
	if d.recorder != nil {
		d.recorder.ObserveRecords(outcome, n)
	}
}

// outcomeLabel maps an outcome onto the records_total metric label.
func outcomeLabel(o Outcome) string {
	switch {
	case o.State == StateFailed:
		return string(o.Reason)
	case o.State == StateDone && o.Candidates == 0:
		return "unmatched"
	default:
		return string(o.State)
	}
}
