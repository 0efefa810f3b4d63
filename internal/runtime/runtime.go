package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/rosterhq/roster/internal/config"
	"github.com/rosterhq/roster/internal/dedupe"
	"github.com/rosterhq/roster/internal/events"
	"github.com/rosterhq/roster/internal/ingest"
	"github.com/rosterhq/roster/internal/mirror"
	"github.com/rosterhq/roster/internal/notify"
	"github.com/rosterhq/roster/internal/queue"
	pebblestore "github.com/rosterhq/roster/internal/storage/pebble"
	"github.com/rosterhq/roster/internal/stats"
	"github.com/rosterhq/roster/internal/store"
	"github.com/rosterhq/roster/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
}

// Runtime wires storage, queues and services for a single-node instance.
type Runtime struct {
	db       *pebblestore.DB
	config   cfgpkg.Config
	logger   log.Logger
	mainTube *queue.Tube
	csvTube  *queue.Tube
	store    *store.Store
	detector *dedupe.Detector
	stats    *stats.Aggregator
	notify   *notify.Store
	mirror   *mirror.Publisher
	bus      *events.Bus
	ingest   *ingest.Service
}

// Open initializes storage, opens both tubes, connects the optional
// AMQP mirror and registers the event subscribers in their fixed order:
// stats, notifications, mirror.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: cfg.DataDir,
		Fsync:   fsyncMode(cfg.FsyncMode),
		Metrics: storageMetrics{},
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rt := &Runtime{db: db, config: cfg, logger: logger}

	rt.mainTube, err = queue.Open(db, cfg.Queue.MainTube)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open tube %q: %w", cfg.Queue.MainTube, err)
	}
	rt.csvTube, err = queue.Open(db, cfg.Queue.CSVTube)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open tube %q: %w", cfg.Queue.CSVTube, err)
	}

	rt.store = store.New(db)
	rt.detector = dedupe.New(rt.store)
	rt.stats = stats.New(db)
	rt.notify = notify.NewStore(db, time.Duration(cfg.Notify.TTLMs)*time.Millisecond)

	rt.mirror, err = mirror.Dial(cfg.Mirror.AMQPURL, cfg.Mirror.Exchange)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rt.bus = events.NewBus(logger)
	rt.bus.Subscribe(events.Subscriber{Name: "stats", Handle: rt.handleStats})
	rt.bus.Subscribe(events.Subscriber{Name: "notify", Handle: rt.handleNotify})
	rt.bus.Subscribe(events.Subscriber{Name: "mirror", Handle: rt.handleMirror})

	rt.ingest = ingest.New(rt.store, rt.mainTube, rt.csvTube, logger)

	sweep := time.Duration(cfg.Queue.SweepIntervalMs) * time.Millisecond
	rt.mainTube.StartSweeper(sweep, 256)
	rt.csvTube.StartSweeper(sweep, 256)

	return rt, nil
}

// Close stops sweepers and closes underlying resources.
func (r *Runtime) Close() error {
	if r.mainTube != nil {
		r.mainTube.StopSweeper()
	}
	if r.csvTube != nil {
		r.csvTube.StopSweeper()
	}
	r.mirror.Close()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage probe.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

func (r *Runtime) handleStats(ctx context.Context, ev events.Event) error {
	status := "completed"
	if ev.Type != events.TypeCompleted {
		status = "failed"
	}
	if err := r.stats.RecordOutcome(ctx, status, string(ev.Operation), string(ev.Source), time.UnixMilli(ev.AtMs)); err != nil {
		return err
	}
	if ev.Type == events.TypeDuplicate && ev.Email != "" {
		return r.stats.RecordDuplicate(ctx, ev.Email)
	}
	return nil
}

func (r *Runtime) handleNotify(ctx context.Context, ev events.Event) error {
	var (
		kind  notify.Kind
		title string
	)
	switch ev.Type {
	case events.TypeCompleted:
		kind = notify.KindSuccess
		title = fmt.Sprintf("%s completed", ev.Operation)
	case events.TypeDuplicate:
		kind = notify.KindDuplicate
		title = "duplicate rejected"
	default:
		kind = notify.KindFailure
		title = fmt.Sprintf("%s failed", ev.Operation)
	}
	message := ev.Reason
	if message == "" {
		message = fmt.Sprintf("submission %s processed", ev.SubmissionID)
	}
	_, err := r.notify.Create(ctx, title, message, kind)
	return err
}

func (r *Runtime) handleMirror(ctx context.Context, ev events.Event) error {
	return r.mirror.Publish(ctx, ev)
}

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// DB exposes the underlying database for internal use.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Store returns the submission and person record store.
func (r *Runtime) Store() *store.Store { return r.store }

// Detector returns the duplicate detector.
func (r *Runtime) Detector() *dedupe.Detector { return r.detector }

// Stats returns the counter aggregator.
func (r *Runtime) Stats() *stats.Aggregator { return r.stats }

// Notify returns the notification feed.
func (r *Runtime) Notify() *notify.Store { return r.notify }

// Bus returns the event bus.
func (r *Runtime) Bus() *events.Bus { return r.bus }

// Ingest returns the submission intake service.
func (r *Runtime) Ingest() *ingest.Service { return r.ingest }

// Tubes returns the main and csv tubes in consumption order.
func (r *Runtime) Tubes() []*queue.Tube {
	return []*queue.Tube{r.mainTube, r.csvTube}
}

func fsyncMode(s string) pebblestore.FsyncMode {
	switch s {
	case "never":
		return pebblestore.FsyncModeNever
	case "interval":
		return pebblestore.FsyncModeInterval
	default:
		return pebblestore.FsyncModeAlways
	}
}
