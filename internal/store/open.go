package store

import (
	"fmt"

	"github.com/ashureev/quoteworks/internal/config"
)

// Open builds the Repository selected by cfg.DraftBackend.
func Open(cfg *config.Config, opts ...Option) (Repository, error) {
	switch cfg.DraftBackend {
	case config.DraftBackendPebble:
		return NewPebble(cfg.PebblePath, opts...)
	case config.DraftBackendSQLite, "":
		return NewSQLite(cfg.DBPath, opts...)
	default:
		return nil, fmt.Errorf("unknown draft backend %q", cfg.DraftBackend)
	}
}
