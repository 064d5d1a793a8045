package routine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"tributary/internal/logging"
	"tributary/internal/services"
)

// ErrRunInProgress reports that another trigger run holds the lock.
var ErrRunInProgress = errors.New("another run in progress")

// Runner executes stage routines behind a file lock. Holding the lock for
// the whole run keeps stage triggers serialized across the CLI and the API
// server: two runs never interleave, whatever invoked them.
type Runner struct {
	defs   []Definition
	store  Store
	lock   *flock.Flock
	logger *slog.Logger
}

// NewRunner constructs a pipeline runner over the stage table.
func NewRunner(defs []Definition, store Store, lockPath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		defs:   defs,
		store:  store,
		lock:   flock.New(lockPath),
		logger: logger,
	}
}

// Triggers returns the known trigger names in pipeline order.
func (r *Runner) Triggers() []string {
	names := make([]string, len(r.defs))
	for i, def := range r.defs {
		names[i] = def.Name
	}
	return names
}

// Run executes the named trigger. A run already in progress anywhere on
// the host makes this one fail immediately rather than queue.
func (r *Runner) Run(ctx context.Context, trigger string) (Summary, error) {
	def, ok := r.find(trigger)
	if !ok {
		return Summary{}, services.Wrap(services.ErrConfiguration, "runner", "run", fmt.Sprintf("unknown trigger %q", trigger), nil)
	}

	unlock, err := r.acquire()
	if err != nil {
		return Summary{}, err
	}
	defer unlock()

	return r.runLocked(ctx, def)
}

// RunAll executes every stage once, in pipeline order, under a single
// lock acquisition. Packages advanced by one stage are picked up by the
// next within the same invocation.
func (r *Runner) RunAll(ctx context.Context) ([]Summary, error) {
	unlock, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	summaries := make([]Summary, 0, len(r.defs))
	for _, def := range r.defs {
		summary, err := r.runLocked(ctx, def)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (r *Runner) runLocked(ctx context.Context, def Definition) (Summary, error) {
	runID := uuid.NewString()
	ctx = services.WithRequestID(ctx, runID)

	r.logger.Info("stage run started",
		logging.String(logging.FieldComponent, "runner"),
		logging.String(logging.FieldStage, def.Name),
		logging.String(logging.FieldCorrelationID, runID),
	)

	summary, err := New(def, r.store, r.logger).Run(ctx)
	if err != nil {
		r.logger.Error("stage run failed",
			logging.String(logging.FieldComponent, "runner"),
			logging.String(logging.FieldStage, def.Name),
			logging.String(logging.FieldCorrelationID, runID),
			logging.Error(err),
		)
		return Summary{}, err
	}

	r.logger.Info("stage run finished",
		logging.String(logging.FieldComponent, "runner"),
		logging.String(logging.FieldStage, def.Name),
		logging.String(logging.FieldCorrelationID, runID),
		logging.String("detail", summary.Detail),
	)
	return summary, nil
}

func (r *Runner) acquire() (func(), error) {
	locked, err := r.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: lock held at %s", ErrRunInProgress, r.lock.Path())
	}
	return func() { _ = r.lock.Unlock() }, nil
}

func (r *Runner) find(trigger string) (Definition, bool) {
	for _, def := range r.defs {
		if def.Name == trigger {
			return def, true
		}
	}
	return Definition{}, false
}
