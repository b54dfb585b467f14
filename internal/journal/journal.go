package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/wallet-watch/internal/metrics"
	"github.com/rickgao/wallet-watch/internal/model"
)

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config configures batching.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits before being written
	BufferSize    int           // Pending rows before Record drops
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats contains journal counters.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Dropped   int64
	Flushes   int64
}

// Option configures a Journal.
type Option func(*Journal)

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Journal) { j.metrics = m }
}

// Journal writes model.Delivery rows in batches. It satisfies
// dispatch.Recorder.
type Journal struct {
	cfg     Config
	db      DB
	logger  *slog.Logger
	metrics *metrics.Metrics

	input   chan model.Delivery
	drained chan struct{} // closed when consumeLoop exits

	// Batching
	batch   []model.Delivery
	batchMu sync.Mutex

	// Lifecycle
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats Stats
}

// New creates a Journal.
func New(cfg Config, db DB, logger *slog.Logger, opts ...Option) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	j := &Journal{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		input:   make(chan model.Delivery, cfg.BufferSize),
		drained: make(chan struct{}),
		batch:   make([]model.Delivery, 0, cfg.BatchSize),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// EnsureSchema creates the deliveries table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create deliveries table: %w", err)
	}
	return nil
}

// Start begins consuming deliveries.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("delivery journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Record queues a delivery without blocking. When the buffer is full the
// row is dropped.
func (j *Journal) Record(d model.Delivery) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.stopped {
		j.countDrop()
		return
	}

	select {
	case j.input <- d:
	default:
		j.countDrop()
		j.logger.Warn("journal buffer full, dropping delivery",
			"signature", d.Signature,
			"subscriber", d.Subscriber,
		)
	}
}

// Stop drains buffered deliveries, writes the final batch and waits for the
// loops. If ctx ends first the remaining rows are lost.
func (j *Journal) Stop(ctx context.Context) error {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return nil
	}
	j.stopped = true
	close(j.input)
	j.mu.Unlock()

	j.logger.Info("stopping delivery journal")

	if j.cancel == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("delivery journal stop timed out")
		j.cancel()
		<-done
		return ctx.Err()
	}

	// Final flush, still on the live context
	j.flush()
	j.cancel()

	j.logger.Info("delivery journal stopped")
	return nil
}

// Stats returns current counters.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.stats
}

func (j *Journal) countDrop() {
	j.batchMu.Lock()
	j.stats.Dropped++
	j.batchMu.Unlock()
}

// consumeLoop reads from the input channel until it is closed.
func (j *Journal) consumeLoop() {
	defer j.wg.Done()
	defer close(j.drained)

	for {
		select {
		case <-j.ctx.Done():
			return
		case d, ok := <-j.input:
			if !ok {
				return
			}
			j.add(d)
		}
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.drained:
			return
		case <-ticker.C:
			j.flush()
		}
	}
}

func (j *Journal) add(d model.Delivery) {
	j.batchMu.Lock()
	j.batch = append(j.batch, d)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush()
	}
}

// flush writes the current batch to the database.
func (j *Journal) flush() {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	batch := j.batch
	j.batch = make([]model.Delivery, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()
	j.metrics.ObserveJournalBatch(len(batch))

	conflicts, err := j.batchInsert(batch)
	if err != nil {
		j.metrics.IncJournalError()
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.stats.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.stats.Inserts += int64(len(batch) - conflicts)
	j.stats.Conflicts += int64(conflicts)
	j.stats.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed deliveries",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(rows []model.Delivery) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, d := range rows {
		batch.Queue(insertDelivery, d.ID, d.Subscriber, d.Address, d.Signature, d.DeliveredAt, d.Error)
	}

	results := j.db.SendBatch(j.ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
