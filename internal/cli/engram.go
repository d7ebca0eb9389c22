package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spectra-red/sentinel/internal/engram"
)

// NewEngramCommand inspects reasoning sessions (engrams): listing the
// index and verifying a closed session's content hash.
func NewEngramCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "engram",
		Short: "Inspect reasoning session engrams",
	}
	root.AddCommand(newEngramListCommand())
	root.AddCommand(newEngramVerifyCommand())
	return root
}

func newEngramListCommand() *cobra.Command {
	var (
		tenant string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent engram index entries for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return cmdErr("--tenant is required")
			}
			logger, _ := zap.NewProduction()
			defer logger.Sync()
			ctx := context.Background()

			db, _, err := connectGraph(ctx, logger)
			if err != nil {
				return err
			}
			defer db.Close(ctx)

			index := engram.NewSurrealIndexStore(db)
			entries, err := index.List(ctx, tenant, limit)
			if err != nil {
				return err
			}
			return formatJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows to return")
	return cmd
}

func newEngramVerifyCommand() *cobra.Command {
	var (
		tenant  string
		address string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a closed session's content hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" || address == "" {
				return cmdErr("--tenant and --address are required")
			}
			store, err := engram.NewFileObjectStore(viper.GetString("engram.object_dir"))
			if err != nil {
				return err
			}
			ok, err := engram.Verify(context.Background(), store, tenant, engram.Address(address))
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: intact\n", address)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: CORRUPTED — content hash mismatch\n", address)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&address, "address", "", "engram content address")
	return cmd
}
