package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/quoteworks/internal/metrics"
	"github.com/ashureev/quoteworks/internal/store"
)

// Lookup sources, used as metric labels.
const (
	SourceMemory = "memory"
	SourceStore  = "store"
	SourceRemote = "remote"
	SourceFailed = "failed"
)

const lookupTimeout = 15 * time.Second

// ManufacturerFetcher resolves a name from the marketplace.
type ManufacturerFetcher interface {
	FetchManufacturerName(ctx context.Context, supplierID int64) (string, error)
}

// ManufacturerNames is a memoizing lookup of manufacturer names by supplier.
// Concurrent lookups of one supplier share a single fetch. Resolved names are
// kept in memory and in the durable cache; a failed fetch is not remembered,
// so the next lookup retries.
type ManufacturerNames struct {
	fetcher ManufacturerFetcher
	durable store.ManufacturerCache
	logger  *slog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	resolved map[int64]string
}

// NewManufacturerNames creates the lookup. durable may be nil.
func NewManufacturerNames(fetcher ManufacturerFetcher, durable store.ManufacturerCache, logger *slog.Logger) *ManufacturerNames {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManufacturerNames{
		fetcher:  fetcher,
		durable:  durable,
		logger:   logger,
		resolved: make(map[int64]string),
	}
}

type lookupResult struct {
	name   string
	source string
}

// Lookup returns the manufacturer name of supplierID.
func (m *ManufacturerNames) Lookup(ctx context.Context, supplierID int64) (string, error) {
	m.mu.RLock()
	name, ok := m.resolved[supplierID]
	m.mu.RUnlock()
	if ok {
		metrics.ManufacturerLookups.WithLabelValues(SourceMemory).Inc()
		return name, nil
	}

	// The shared fetch must outlive any single caller that gives up.
	ch := m.group.DoChan(strconv.FormatInt(supplierID, 10), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return m.resolve(fetchCtx, supplierID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			metrics.ManufacturerLookups.WithLabelValues(SourceFailed).Inc()
			return "", res.Err
		}
		r := res.Val.(lookupResult)
		metrics.ManufacturerLookups.WithLabelValues(r.source).Inc()
		return r.name, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *ManufacturerNames) resolve(ctx context.Context, supplierID int64) (lookupResult, error) {
	if m.durable != nil {
		name, found, err := m.durable.GetManufacturerName(ctx, supplierID)
		if err != nil {
			m.logger.Warn("Manufacturer cache read failed", "supplier_id", supplierID, "error", err)
		} else if found {
			m.remember(supplierID, name)
			return lookupResult{name: name, source: SourceStore}, nil
		}
	}

	name, err := m.fetcher.FetchManufacturerName(ctx, supplierID)
	if err != nil {
		return lookupResult{}, fmt.Errorf("resolve manufacturer name: %w", err)
	}

	m.remember(supplierID, name)
	if m.durable != nil {
		if err := m.durable.PutManufacturerName(ctx, supplierID, name); err != nil {
			m.logger.Warn("Manufacturer cache write failed", "supplier_id", supplierID, "error", err)
		}
	}
	return lookupResult{name: name, source: SourceRemote}, nil
}

func (m *ManufacturerNames) remember(supplierID int64, name string) {
	m.mu.Lock()
	m.resolved[supplierID] = name
	m.mu.Unlock()
}
