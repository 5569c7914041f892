package persistence

import (
	"fmt"

	"github.com/tcriess/lightspeed-presence/config"
)

// NewPersister opens the store selected by the persistence configuration.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite", "postgres":
		return NewGormPersister(cfg)
	}
	return nil, fmt.Errorf("invalid persistence type %q", cfg.PersistenceConfig.Type)
}
