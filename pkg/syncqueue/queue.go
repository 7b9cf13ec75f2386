package syncqueue

import (
	"context"
	"sync"
	"time"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/backend"
)

// Queue persists finished measurements locally and uploads them to the
// backend, immediately when possible and via batch retry otherwise. At most
// one batch upload is outstanding at a time.
type Queue struct {
	mu      sync.Mutex
	store   *Store
	backend backend.Client
	logger  analyzer.Logger
}

// New instantiates a new sync queue on top of the given store and backend
// client, executing functional options, if any
func New(store *Store, client backend.Client, options ...func(*Queue)) *Queue {
	q := &Queue{
		store:   store,
		backend: client,
		logger:  &analyzer.NullLogger{},
	}

	for _, option := range options {
		option(q)
	}

	return q
}

// WithLogger sets the logger used by the queue
func WithLogger(logger analyzer.Logger) func(*Queue) {
	return func(q *Queue) {
		q.logger = logger
	}
}

// Complete stores a finished measurement (attaching the link, if any) and
// attempts an immediate upload. An upload failure is not an error: the
// measurement stays in the pending set for a later Retry and never blocks
// the user-facing completion of a measurement.
func (q *Queue) Complete(ctx context.Context, m analyzer.Measurement, link *analyzer.Link) error {
	if link != nil {
		m.Link = link
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.backend.StoreMeasurement(ctx, m); err != nil {
		q.logger.Warnf("immediate upload of measurement `%s` failed, queued for retry: %s", m.ID, err)
		return q.store.Insert(m)
	}

	now := time.Now()
	m.SyncedAt = &now
	return q.store.Insert(m)
}

// Retry uploads all pending measurements in one batch request. The upload is
// all-or-nothing: on success exactly the included entries are marked synced;
// on failure the queue is left untouched. It returns the number of
// measurements synced.
func (q *Queue) Retry(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.store.Pending()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	if err := q.backend.StoreMeasurementBatch(ctx, pending); err != nil {
		if recErr := q.store.RecordAttempt(err); recErr != nil {
			q.logger.Warnf("failed to record upload attempt: %s", recErr)
		}
		return 0, err
	}

	ids := make([]string, len(pending))
	for i, m := range pending {
		ids[i] = m.ID
	}
	if err := q.store.MarkSynced(ids, time.Now()); err != nil {
		return 0, err
	}

	q.logger.Infof("synced %d queued measurement(s)", len(pending))
	return len(pending), nil
}

// Link attaches an already-synced measurement to an external entity. This is
// an explicit late operation and does not re-enter the queue.
func (q *Queue) Link(ctx context.Context, measurementID string, link analyzer.Link) error {
	if err := q.backend.LinkMeasurement(ctx, measurementID, link); err != nil {
		return err
	}

	return q.store.SetLink(measurementID, link)
}

// Pending returns the measurements not yet confirmed persisted
func (q *Queue) Pending() ([]analyzer.Measurement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Pending()
}

// History returns the most recent measurements, synced or not
func (q *Queue) History(limit int) ([]analyzer.Measurement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.History(limit)
}
