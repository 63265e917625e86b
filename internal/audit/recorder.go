package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

const (
	defaultQueueSize    = 256
	defaultPruneEvery   = time.Hour
	defaultWriteTimeout = 5 * time.Second
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Repository Repository

	// Retention is how long entries are kept. Zero keeps everything.
	Retention time.Duration

	// QueueSize bounds events waiting to be written.
	QueueSize int

	// PruneEvery is how often expired entries are deleted.
	PruneEvery time.Duration

	Logger Logger
}

// Recorder persists bridge events asynchronously. It implements
// ble.EventSink.
type Recorder struct {
	repo       Repository
	retention  time.Duration
	pruneEvery time.Duration
	logger     Logger

	queue   chan ble.Event
	dropped atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  atomic.Bool
}

// NewRecorder creates a recorder. Call Start before recording.
func NewRecorder(opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.PruneEvery <= 0 {
		opts.PruneEvery = defaultPruneEvery
	}
	return &Recorder{
		repo:       opts.Repository,
		retention:  opts.Retention,
		pruneEvery: opts.PruneEvery,
		logger:     opts.Logger,
		queue:      make(chan ble.Event, opts.QueueSize),
		done:       make(chan struct{}),
	}
}

// RecordEvent queues ev. It never blocks; when the queue is full the
// event is dropped.
func (r *Recorder) RecordEvent(ev ble.Event) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Start launches the writer goroutine. Calling Start twice is a no-op.
func (r *Recorder) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.run()
}

// Stop drains queued events and waits for the writer to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()

	prune := time.NewTicker(r.pruneEvery)
	defer prune.Stop()
	r.prune()

	for {
		select {
		case ev := <-r.queue:
			r.write(ev)
		case <-prune.C:
			r.prune()
		case <-r.done:
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ev ble.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	e := &Entry{
		Type:      string(ev.Type),
		Address:   ev.Address,
		Handle:    ev.Handle,
		Value:     ev.Value,
		Detail:    ev.Detail,
		CreatedAt: ev.Timestamp,
	}
	if err := r.repo.Create(ctx, e); err != nil && r.logger != nil {
		r.logger.Error("recording event failed", "type", ev.Type, "error", err)
	}
}

func (r *Recorder) prune() {
	if r.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	n, err := r.repo.Prune(ctx, time.Now().Add(-r.retention))
	if r.logger == nil {
		return
	}
	if err != nil {
		r.logger.Error("pruning events failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned event log", "removed", n)
	}
}
