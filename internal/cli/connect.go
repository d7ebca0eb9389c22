package cli

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"

	"github.com/spectra-red/sentinel/internal/graphstore"
	"github.com/spectra-red/sentinel/internal/orchestrator"
	"github.com/spectra-red/sentinel/internal/secrets"
)

// connectGraph dials the same SurrealDB instance cmd/sentineld writes
// to, following the connect/sign-in/use sequence the teacher's
// cmd/api/main.go establishes.
func connectGraph(ctx context.Context, logger *zap.Logger) (*surrealdb.DB, graphstore.GraphStore, error) {
	url := viper.GetString("graph.url")
	db, err := surrealdb.New(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to graph store at %s: %w", url, err)
	}
	if _, err := db.SignIn(ctx, surrealdb.Auth{
		Username: viper.GetString("graph.user"),
		Password: viper.GetString("graph.password"),
	}); err != nil {
		db.Close(ctx)
		return nil, nil, fmt.Errorf("authenticating with graph store: %w", err)
	}
	if err := db.Use(ctx, viper.GetString("graph.namespace"), viper.GetString("graph.database")); err != nil {
		db.Close(ctx)
		return nil, nil, fmt.Errorf("selecting graph namespace/database: %w", err)
	}
	return db, graphstore.NewSurrealStore(db, logger, nil), nil
}

func openScanStore() (*orchestrator.Store, error) {
	store, err := orchestrator.Open(viper.GetString("scan.dsn"))
	if err != nil {
		return nil, fmt.Errorf("opening scan history store: %w", err)
	}
	return store, nil
}

func openSecrets() (*secrets.Resolver, error) {
	return secrets.Open(secrets.Config{
		ServiceName: viper.GetString("secrets.service_name"),
		FileDir:     viper.GetString("secrets.file_dir"),
	})
}
