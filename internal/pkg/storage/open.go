package storage

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/Bookfox/internal/pkg/security"
)

// Open builds the configured object store.
func Open(ctx context.Context, cfg *Config) (ObjectStore, error) {
	switch cfg.Driver {
	case DriverS3:
		return NewS3Store(ctx, cfg)
	case DriverLocal:
		signer, err := security.NewSigner(cfg.SigningSecret)
		if err != nil {
			return nil, err
		}
		return NewLocalStore(cfg.LocalRoot, cfg.PublicBaseURL, signer)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
