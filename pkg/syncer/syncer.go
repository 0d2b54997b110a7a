package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/calinsight/pkg/calendar"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
	"github.com/otherjamesbrown/calinsight/pkg/observability"
)

// Syncer runs sync requests. It is not safe for concurrent use; separate
// processes may sync disjoint users at the same time.
type Syncer struct {
	source     calendar.Source
	repo       meetings.Repository
	normalizer *meetings.Normalizer
	opts       Options

	logger    logging.Logger
	metrics   *observability.SyncMetrics
	tracer    *observability.Tracer
	publisher *observability.Publisher
	locker    *observability.Locker

	now   func() time.Time
	newID func() string
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithMetrics records run metrics into m.
func WithMetrics(m *observability.SyncMetrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithPublisher publishes a sync.completed event after every run.
func WithPublisher(p *observability.Publisher) Option {
	return func(s *Syncer) { s.publisher = p }
}

// WithLocker takes a per-user lock for the duration of that user's sync.
func WithLocker(l *observability.Locker) Option {
	return func(s *Syncer) { s.locker = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// New creates a Syncer.
func New(source calendar.Source, repo meetings.Repository, normalizer *meetings.Normalizer, opts Options, options ...Option) *Syncer {
	opts.applyDefaults()
	s := &Syncer{
		source:     source,
		repo:       repo,
		normalizer: normalizer,
		opts:       opts,
		logger:     logging.NewNopLogger(),
		tracer:     observability.NewTracer(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, o := range options {
		o(s)
	}
	if s.normalizer == nil {
		s.normalizer = meetings.NewNormalizer(nil, s.logger)
	}
	return s
}

// Run executes req for every requested user. The returned Summary is always
// non-nil once the request validates. The error is non-nil only when the run
// had to stop: an authorization failure, a cancelled context, or an invalid
// request. Transient, permanent and persistence failures are reported in the
// Summary and lead to a partial status instead.
func (s *Syncer) Run(ctx context.Context, req Request) (*Summary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	runID := s.newID()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := s.logger.WithContext(ctx).With(logging.F("mode", string(req.Mode)))
	ctx, span := s.tracer.StartRun(ctx, runID, string(req.Mode))

	sum := &Summary{
		RunID:           runID,
		Mode:            req.Mode,
		StartedAt:       s.now().UTC(),
		SkippedByReason: map[meetings.SkipReason]int{},
	}
	log.Info("sync started", logging.F("users", len(req.Users)))

	var runErr error
	for i, user := range req.Users {
		res, err := s.syncUser(ctx, log, runID, req, user)
		sum.add(res)
		if err != nil && (cierrors.IsAuthorization(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			runErr = err
			for _, rest := range req.Users[i+1:] {
				sum.add(&UserResult{User: rest, Status: meetings.RunFailed, Error: "not attempted: run aborted"})
			}
			break
		}
	}

	sum.FinishedAt = s.now().UTC()
	sum.finalize(runErr)
	observability.EndSpan(span, runErr, string(cierrors.CodeOf(runErr)))

	s.observe(sum)
	s.publish(ctx, log, sum)

	fields := []logging.Field{
		logging.F("status", string(sum.Status)),
		logging.F("fetched", sum.Fetched),
		logging.F("inserted", sum.Inserted),
		logging.F("updated", sum.Updated),
		logging.F("unchanged", sum.Unchanged),
		logging.F("skipped", sum.Skipped),
		logging.F("failed_chunks", sum.FailedChunks),
		logging.F("failed_batches", sum.FailedBatches),
		logging.F("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
	}
	if runErr != nil {
		log.Error("sync aborted", append(fields, logging.Err(runErr))...)
	} else {
		log.Info("sync finished", fields...)
	}
	return sum, runErr
}

// syncUser syncs one user's window and records the run row.
func (s *Syncer) syncUser(ctx context.Context, log logging.Logger, runID string, req Request, user string) (*UserResult, error) {
	res := &UserResult{User: user, SkippedByReason: map[meetings.SkipReason]int{}}
	log = log.With(logging.F("user", user))
	ctx, span := s.tracer.StartUser(ctx, user)
	started := s.now().UTC()

	err := s.syncUserWindow(ctx, log, req, user, res)
	res.finalize(err)
	observability.EndSpan(span, err, string(cierrors.CodeOf(err)))

	run := &meetings.SyncRun{
		RunID:          runID,
		UserEmail:      user,
		Mode:           string(req.Mode),
		WindowStart:    res.Window.Start,
		WindowEnd:      res.Window.End,
		StartedAt:      started,
		FinishedAt:     s.now().UTC(),
		Status:         res.Status,
		Fetched:        res.Fetched,
		Inserted:       res.Inserted,
		Updated:        res.Updated,
		Skipped:        res.Skipped,
		FailedChunks:   res.FailedChunks,
		FailedBatches:  res.FailedBatches,
		ReachedThrough: res.ReachedThrough,
		Error:          res.Error,
	}
	// The run row is written even when ctx was cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if rerr := s.repo.RecordRun(recordCtx, run); rerr != nil {
		log.Warn("failed to record sync run", logging.Err(rerr))
	}
	return res, err
}

func (s *Syncer) syncUserWindow(ctx context.Context, log logging.Logger, req Request, user string, res *UserResult) error {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "sync:"+user, s.opts.LockTTL)
		if err != nil {
			log.Warn("skipping user", logging.Err(err))
			return err
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				log.Warn("failed to release lock", logging.Err(rerr))
			}
		}()
	}

	w, err := planWindow(ctx, s.repo, req, s.opts, user, s.now())
	if err != nil {
		return err
	}
	res.Window = w
	chunks := w.Split(s.opts.ChunkSize)
	res.TotalChunks = len(chunks)
	log.Info("syncing user", logging.F("window", w.String()), logging.F("chunks", len(chunks)))

	contiguous := true
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := s.syncChunk(ctx, log.With(logging.F("chunk", i+1)), user, chunk, res)
		if err != nil {
			return err
		}
		if !ok {
			contiguous = false
			continue
		}
		res.CompletedChunks++
		if contiguous {
			end := chunk.End
			res.ReachedThrough = &end
		}
	}
	return nil
}

// syncChunk fetches, normalizes and writes one chunk. It reports whether
// the chunk completed cleanly; a non-nil error means the run must stop.
func (s *Syncer) syncChunk(ctx context.Context, log logging.Logger, user string, chunk calendar.Window, res *UserResult) (bool, error) {
	ctx, span := s.tracer.StartChunk(ctx, chunk.Start, chunk.End)
	ok := true
	var fetchErr error
	batch := make([]*meetings.Meeting, 0, s.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if !s.writeBatch(ctx, log, batch, res) {
			ok = false
		}
		batch = batch[:0]
	}

	for ev, err := range s.source.Events(ctx, user, chunk) {
		if err != nil {
			fetchErr = err
			break
		}
		res.Fetched++
		m, reason := s.normalizer.Normalize(ctx, user, s.opts.CalendarID, ev)
		if reason != meetings.SkipNone {
			res.Skipped++
			res.SkippedByReason[reason]++
			continue
		}
		batch = append(batch, m)
		if len(batch) >= s.opts.BatchSize {
			flush()
		}
	}

	if fetchErr != nil && (cierrors.IsAuthorization(fetchErr) || ctx.Err() != nil) {
		observability.EndSpan(span, fetchErr, string(cierrors.CodeOf(fetchErr)))
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fetchErr
	}

	// Records fetched before a failure are still written; upserts are idempotent.
	flush()

	if fetchErr != nil {
		ok = false
		res.FailedChunks++
		res.noteError(fmt.Sprintf("chunk %s: %v", chunk, fetchErr))
		log.Warn("chunk failed", logging.F("window", chunk.String()), logging.Err(fetchErr))
	}
	observability.EndSpan(span, fetchErr, string(cierrors.CodeOf(fetchErr)))
	return ok, nil
}

// writeBatch upserts one batch and reports whether it committed.
func (s *Syncer) writeBatch(ctx context.Context, log logging.Logger, batch []*meetings.Meeting, res *UserResult) bool {
	ctx, span := s.tracer.StartBatch(ctx, len(batch))
	out, err := s.repo.UpsertBatch(ctx, batch)
	observability.EndSpan(span, err, string(cierrors.CodeOf(err)))
	if err != nil {
		res.FailedBatches++
		res.noteError(fmt.Sprintf("batch of %d: %v", len(batch), err))
		log.Warn("batch rolled back", logging.F("rows", len(batch)), logging.Err(err))
		return false
	}
	res.committedBatches++
	res.Inserted += out.Inserted
	res.Updated += out.Updated
	res.Unchanged += out.Unchanged
	log.Debug("batch written",
		logging.F("inserted", out.Inserted),
		logging.F("updated", out.Updated),
		logging.F("unchanged", out.Unchanged))
	return true
}

func (s *Syncer) observe(sum *Summary) {
	if s.metrics == nil {
		return
	}
	m := s.metrics
	m.ObserveRun(string(sum.Mode), string(sum.Status), sum.FinishedAt.Sub(sum.StartedAt), sum.FinishedAt)
	m.EventsFetchedTotal.Add(float64(sum.Fetched))
	m.RowsWrittenTotal.WithLabelValues("inserted").Add(float64(sum.Inserted))
	m.RowsWrittenTotal.WithLabelValues("updated").Add(float64(sum.Updated))
	m.RowsWrittenTotal.WithLabelValues("unchanged").Add(float64(sum.Unchanged))
	for reason, n := range sum.SkippedByReason {
		m.SkippedTotal.WithLabelValues(string(reason)).Add(float64(n))
	}
	m.FailedChunksTotal.Add(float64(sum.FailedChunks))
	m.FailedBatchesTotal.Add(float64(sum.FailedBatches))
}

func (s *Syncer) publish(ctx context.Context, log logging.Logger, sum *Summary) {
	if s.publisher == nil {
		return
	}
	users := make([]string, 0, len(sum.Users))
	for _, u := range sum.Users {
		users = append(users, u.User)
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.publisher.PublishSyncCompleted(pubCtx, observability.SyncCompletedEvent{
		RunID:          sum.RunID,
		Mode:           string(sum.Mode),
		Status:         string(sum.Status),
		Users:          users,
		Inserted:       sum.Inserted,
		Updated:        sum.Updated,
		ReachedThrough: sum.ReachedThrough,
	})
	if err != nil {
		log.Warn("failed to publish sync event", logging.Err(err))
	}
}
