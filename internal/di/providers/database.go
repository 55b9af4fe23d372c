package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/ledger"
	"github.com/tappedai/event-crawler/internal/ledger/redislock"
	"github.com/tappedai/event-crawler/internal/ledger/sqlite"
	"github.com/tappedai/event-crawler/internal/logger"
	"github.com/tappedai/event-crawler/internal/materialize"
	"github.com/tappedai/event-crawler/internal/store"
)

// StoreHandle wraps the document store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the Badger document store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	db, err := store.New(cfg.Storage.BadgerPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Document store initialized", "path", cfg.Storage.BadgerPath)
	return &StoreHandle{Store: db}, nil
}

// RunStoreHandle wraps the SQLite run store with shutdown capability.
type RunStoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *RunStoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideRunStore provides the SQLite run store.
func ProvideRunStore(i do.Injector) (*RunStoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	runs, err := sqlite.Open(cfg.Storage.SQLitePath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Run ledger initialized", "path", cfg.Storage.SQLitePath)
	return &RunStoreHandle{Store: runs}, nil
}

// ProvideLedger provides the run ledger. Venue top performers are ranked by
// the materializer.
func ProvideLedger(i do.Injector) (*ledger.Ledger, error) {
	log := do.MustInvoke[*logger.Logger](i)
	runs := do.MustInvoke[*RunStoreHandle](i)
	docs := do.MustInvoke[*StoreHandle](i)
	ranker := do.MustInvoke[*materialize.Materializer](i)

	return ledger.New(runs.Store, docs.Store, ranker, log.Logger), nil
}

// LockerHandle wraps the run lease backend.
type LockerHandle struct {
	ledger.Locker
	close func() error
}

// Shutdown implements do.Shutdownable.
func (h *LockerHandle) Shutdown() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// ProvideLocker provides the Redis lease locker, or an in-process one when
// no Redis URL is configured.
func ProvideLocker(i do.Injector) (*LockerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Redis.URL == "" {
		log.Info("Run leases are in-process")
		return &LockerHandle{Locker: ledger.NewMemoryLocker()}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	rdb, err := redislock.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}

	log.Info("Run leases are held in Redis", "lease_ttl", cfg.Redis.LeaseTTL)
	return &LockerHandle{Locker: redislock.New(rdb, "event-crawler:"), close: rdb.Close}, nil
}
