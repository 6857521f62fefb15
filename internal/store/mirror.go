package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"isotope/internal/ledger"
)

var (
	ErrQueueFull      = errors.New("mirror queue full")
	ErrClosed         = errors.New("mirror closed")
	ErrNotStarted     = errors.New("mirror not started")
	ErrAlreadyStarted = errors.New("mirror already started")
)

const flushTimeout = 5 * time.Second

// Config tunes the mirror queue.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 200 * time.Millisecond
	}
	return c
}

// Mirror copies ledger records into the database from a buffered queue.
// TryAppend never blocks the caller.
type Mirror struct {
	cfg   Config
	db    *gorm.DB
	runID string
	ch    chan ledger.Record
	wg    sync.WaitGroup
	err   atomic.Pointer[error]

	started atomic.Bool
	closed  atomic.Bool
	written atomic.Int64
	failed  atomic.Int64
}

// NewMirror migrates the trade table and prepares a mirror for runID.
func NewMirror(db *gorm.DB, runID string, cfg Config) (*Mirror, error) {
	if db == nil {
		return nil, errors.New("mirror: nil db")
	}
	if err := db.AutoMigrate(&TradeRow{}); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Mirror{
		cfg:   cfg,
		db:    db,
		runID: runID,
		ch:    make(chan ledger.Record, cfg.QueueSize),
	}, nil
}

// Start runs the writer loop in a new goroutine.
func (m *Mirror) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
	return nil
}

// TryAppend enqueues a record without blocking.
func (m *Mirror) TryAppend(r ledger.Record) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.started.Load() {
		return ErrNotStarted
	}
	select {
	case m.ch <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting records and waits for queued ones to be written.
func (m *Mirror) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		close(m.ch)
	}
	m.wg.Wait()
	return m.Err()
}

// Err returns the first write error, if any.
func (m *Mirror) Err() error {
	if p := m.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Written returns the number of rows stored.
func (m *Mirror) Written() int64 {
	return m.written.Load()
}

// Failed returns the number of rows lost to write errors.
func (m *Mirror) Failed() int64 {
	return m.failed.Load()
}

// Trades returns the rows of a run in ledger order.
func (m *Mirror) Trades(ctx context.Context, runID string) ([]TradeRow, error) {
	var rows []TradeRow
	err := m.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (m *Mirror) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]TradeRow, 0, m.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		m.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-m.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, newTradeRow(m.runID, r))
			if len(batch) >= m.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case r, ok := <-m.ch:
					if !ok {
						flush()
						return
					}
					batch = append(batch, newTradeRow(m.runID, r))
				default:
					flush()
					return
				}
			}
		}
	}
}

func (m *Mirror) write(batch []TradeRow) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := m.db.WithContext(ctx).CreateInBatches(batch, m.cfg.BatchSize).Error; err != nil {
		m.failed.Add(int64(len(batch)))
		m.err.CompareAndSwap(nil, &err)
		logs.Errorf("mirror %d trade rows, err: %+v", len(batch), err)
		return
	}
	m.written.Add(int64(len(batch)))
}
