// Package recordstore connects the durable record store chosen by
// STORE_BACKEND.
package recordstore

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/prospect-portal/config"
	"github.com/ErlanBelekov/prospect-portal/internal/infrastructure/airtable"
	"github.com/ErlanBelekov/prospect-portal/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
)

// Open returns the configured store and a func that releases it. The
// postgres backend creates its records table if missing.
func Open(ctx context.Context, cfg *config.Config) (repository.RecordStore, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewRecordStore(pool, cfg.ExternalCallTimeout), pool.Close, nil

	case "airtable":
		client := airtable.NewClient(airtable.Config{
			APIURL:    cfg.AirtableAPIURL,
			BaseID:    cfg.AirtableBaseID,
			APIKey:    cfg.AirtableAPIKey,
			Timeout:   cfg.ExternalCallTimeout,
			PingTable: cfg.AirtableUsersTable,
		})
		return client, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
