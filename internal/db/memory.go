package db

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/tickstore/internal/candle"
	"github.com/amirphl/tickstore/internal/market"
)

type tickKey struct {
	symbol string
	micros int64
	seq    int64
}

func keyOf(t market.Tick) tickKey {
	return tickKey{symbol: t.Symbol, micros: t.Timestamp.UnixMicro(), seq: t.Sequence}
}

// MemoryStorage keeps ticks in a map. It is used by tests and dry runs.
type MemoryStorage struct {
	mu     sync.RWMutex
	ticks  map[tickKey]market.Tick
	closed bool
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		ticks: make(map[tickKey]market.Tick),
	}
}

var errClosed = errors.New("storage is closed")

func (m *MemoryStorage) EnsureSchema(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) InsertTicks(ctx context.Context, ticks []market.Tick) error {
	if err := ctx.Err(); err != nil {
		return writeError("insert ticks", err)
	}
	if err := validateTicks(ticks); err != nil {
		return writeError("insert ticks", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return writeError("insert ticks", errClosed)
	}

	batch := make(map[tickKey]struct{}, len(ticks))
	for _, t := range ticks {
		k := keyOf(t)
		_, stored := m.ticks[k]
		_, repeated := batch[k]
		if stored || repeated {
			return duplicateError("insert ticks",
				fmt.Errorf("key (%s, %s, %d) exists", t.Symbol, t.Timestamp.Format(time.RFC3339Nano), t.Sequence))
		}
		batch[k] = struct{}{}
	}

	for _, t := range ticks {
		t.Timestamp = t.Timestamp.UTC()
		m.ticks[keyOf(t)] = t
	}
	return nil
}

func (m *MemoryStorage) QueryTicks(ctx context.Context, symbol string, r market.DateRange) iter.Seq2[market.Tick, error] {
	return func(yield func(market.Tick, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(market.Tick{}, err)
			return
		}

		m.mu.RLock()
		if m.closed {
			m.mu.RUnlock()
			yield(market.Tick{}, errClosed)
			return
		}
		var out []market.Tick
		for _, t := range m.ticks {
			if symbol != "" && t.Symbol != symbol {
				continue
			}
			if !r.Contains(t.Timestamp) {
				continue
			}
			out = append(out, t)
		}
		m.mu.RUnlock()

		sort.Slice(out, func(i, j int) bool {
			if out[i].Symbol != out[j].Symbol {
				return out[i].Symbol < out[j].Symbol
			}
			return out[i].Before(out[j])
		})

		for _, t := range out {
			if !yield(t, nil) {
				return
			}
		}
	}
}

func (m *MemoryStorage) QueryBars(ctx context.Context, symbol string, r market.DateRange) iter.Seq2[candle.Bar, error] {
	return candle.DailyBars(m.QueryTicks(ctx, symbol, r))
}

func (m *MemoryStorage) CountTicks(ctx context.Context, day time.Time) (int64, error) {
	r := market.SingleDay(day)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, errClosed
	}

	var n int64
	for _, t := range m.ticks {
		if r.Contains(t.Timestamp) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStorage) DeleteTicks(ctx context.Context, day time.Time, runID string) (int64, error) {
	r := market.SingleDay(day)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, writeError("delete ticks", errClosed)
	}

	var n int64
	for k, t := range m.ticks {
		if !r.Contains(t.Timestamp) {
			continue
		}
		if runID != "" && t.RunID != runID {
			continue
		}
		delete(m.ticks, k)
		n++
	}
	return n, nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
