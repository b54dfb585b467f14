package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wallet-watch/internal/metrics"
	"github.com/rickgao/wallet-watch/internal/model"
)

// ErrDelivery wraps every Notifier failure.
var ErrDelivery = errors.New("delivery failed")

// Notifier hands a rendered message to one subscriber.
type Notifier interface {
	Notify(ctx context.Context, subscriber model.SubscriberID, message string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, subscriber model.SubscriberID, message string) error

func (f NotifierFunc) Notify(ctx context.Context, subscriber model.SubscriberID, message string) error {
	return f(ctx, subscriber, message)
}

// SubscriberLookup returns the current subscribers of an address.
// *pool.Pool satisfies it.
type SubscriberLookup interface {
	Subscribers(address model.Address) []model.SubscriberID
}

// Recorder receives one Delivery per attempted notification.
type Recorder interface {
	Record(d model.Delivery)
}

// Config configures a Dispatcher.
type Config struct {
	Workers        int           // Concurrent notification handlers
	QueueSize      int           // Pending notifications before Submit drops
	DedupeTTL      time.Duration // How long a (signature, wallet) pair is remembered
	DedupeSize     int           // Max remembered pairs
	ExplorerURL    string        // Prefix for the transaction link
	MaxLogLines    int           // Log lines included in the message; negative omits the section
	ResolveTimeout time.Duration // Bound on owner resolution
	NotifyTimeout  time.Duration // Bound on each Notifier call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      1024,
		DedupeTTL:      10 * time.Minute,
		DedupeSize:     10000,
		ExplorerURL:    DefaultExplorerURL,
		MaxLogLines:    DefaultMaxLogLines,
		ResolveTimeout: 10 * time.Second,
		NotifyTimeout:  10 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Received   int64
	Dropped    int64 // queue full or stopped
	Unresolved int64
	NoOwner    int64
	Duplicates int64
	Delivered  int64
	Failed     int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRecorder sets the delivery journal.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// Dispatcher fans notifications out to subscribers.
type Dispatcher struct {
	cfg      Config
	lookup   SubscriberLookup
	resolver OwnerResolver
	notifier Notifier
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	seen     *seenSet

	queue chan model.TransactionEvent

	// Lifecycle
	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	received, dropped, unresolved, noOwner, duplicates, delivered, failed atomic.Int64
}

// New creates a Dispatcher.
func New(cfg Config, lookup SubscriberLookup, resolver OwnerResolver, notifier Notifier, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = def.DedupeTTL
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = def.DedupeSize
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = def.ResolveTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.ExplorerURL == "" {
		cfg.ExplorerURL = def.ExplorerURL
	}
	if cfg.MaxLogLines == 0 {
		cfg.MaxLogLines = def.MaxLogLines
	}

	d := &Dispatcher{
		cfg:      cfg,
		lookup:   lookup,
		resolver: resolver,
		notifier: notifier,
		logger:   logger,
		seen:     newSeenSet(cfg.DedupeSize, cfg.DedupeTTL),
		queue:    make(chan model.TransactionEvent, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		d.group.Go(func() error {
			d.work(ctx)
			return nil
		})
	}

	d.logger.Info("dispatcher started",
		"workers", d.cfg.Workers,
		"queue_size", d.cfg.QueueSize,
	)
	return nil
}

// Submit queues a notification without blocking. When the queue is full
// the notification is dropped.
func (d *Dispatcher) Submit(ev model.TransactionEvent) {
	d.received.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.metrics.IncQueueDrop()
		d.logger.Warn("dispatch queue full, dropping notification",
			"signature", ev.Signature,
			"address", ev.Address,
		)
	}
}

// Stop drains queued notifications and waits for the workers. If ctx ends
// first, in-flight work is cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info("stopping dispatcher")

	if d.group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out")
		d.cancel()
		<-done
	}
	d.cancel()

	return nil
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:   d.received.Load(),
		Dropped:    d.dropped.Load(),
		Unresolved: d.unresolved.Load(),
		NoOwner:    d.noOwner.Load(),
		Duplicates: d.duplicates.Load(),
		Delivered:  d.delivered.Load(),
		Failed:     d.failed.Load(),
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			d.handle(ctx, ev)
		}
	}
}

// handle resolves, dedupes and fans out one notification.
func (d *Dispatcher) handle(ctx context.Context, ev model.TransactionEvent) {
	rctx, cancel := context.WithTimeout(ctx, d.cfg.ResolveTimeout)
	owner, err := d.resolver.Owner(rctx, ev)
	cancel()
	if err != nil {
		d.unresolved.Add(1)
		d.metrics.IncNotification(metrics.OutcomeUnresolved)
		d.logger.Warn("could not resolve wallet for notification",
			"signature", ev.Signature,
			"error", err,
		)
		return
	}

	subscribers := d.lookup.Subscribers(owner)
	if len(subscribers) == 0 {
		d.noOwner.Add(1)
		d.metrics.IncNotification(metrics.OutcomeNoOwner)
		d.logger.Debug("no subscribers for wallet",
			"address", owner,
			"signature", ev.Signature,
		)
		return
	}

	if !d.seen.firstSight(ev.Signature, owner) {
		d.duplicates.Add(1)
		d.metrics.IncNotification(metrics.OutcomeDuplicate)
		return
	}

	ev.Address = owner
	message := Render(ev, d.cfg.ExplorerURL, d.cfg.MaxLogLines)

	for _, sub := range subscribers {
		err := d.deliver(ctx, sub, message)
		if err != nil {
			d.failed.Add(1)
			d.metrics.IncNotification(metrics.OutcomeFailed)
			d.logger.Warn("notification delivery failed",
				"subscriber", sub,
				"address", owner,
				"signature", ev.Signature,
				"error", err,
			)
		} else {
			d.delivered.Add(1)
			d.metrics.IncNotification(metrics.OutcomeDelivered)
		}

		if d.recorder != nil {
			d.recorder.Record(model.NewDelivery(sub, ev, time.Now().UnixMicro(), err))
		}
	}
}

// deliver calls the Notifier, converting panics into errors.
func (d *Dispatcher) deliver(ctx context.Context, sub model.SubscriberID, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrDelivery, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.NotifyTimeout)
	defer cancel()

	if nerr := d.notifier.Notify(ctx, sub, message); nerr != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, nerr)
	}
	return nil
}
