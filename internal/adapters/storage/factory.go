// Package storage selects the SessionStore backend named in the config.
package storage

import (
	"context"
	"fmt"

	"github.com/PabloGalante/farum-cbt/internal/adapters/storage/badger"
	"github.com/PabloGalante/farum-cbt/internal/adapters/storage/firestore"
	"github.com/PabloGalante/farum-cbt/internal/adapters/storage/memory"
	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

// New opens the configured store. The returned close function is never nil.
func New(ctx context.Context, cfg config.StorageConfig) (domain.SessionStore, func() error, error) {
	log := observability.LoggerFromContext(ctx)
	noop := func() error { return nil }

	switch cfg.Backend {
	case "firestore":
		log.Info("using firestore session store", "project", cfg.GCPProject)
		st, err := firestore.NewStore(ctx, cfg.GCPProject)
		if err != nil {
			return nil, noop, fmt.Errorf("initializing firestore store: %w", err)
		}
		return st, st.Close, nil

	case "badger":
		log.Info("using badger session store", "path", cfg.BadgerPath)
		st, err := badger.Open(cfg.BadgerPath)
		if err != nil {
			return nil, noop, fmt.Errorf("initializing badger store: %w", err)
		}
		return st, st.Close, nil

	case "memory", "":
		log.Info("using in-memory session store")
		return memory.NewSessionStore(), noop, nil
	}
	return nil, noop, fmt.Errorf("storage backend %q is not supported", cfg.Backend)
}
