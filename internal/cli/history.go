package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/spectra-red/sentinel/internal/domain"
)

// NewHistoryCommand lists scan_history rows for a tenant.
func NewHistoryCommand() *cobra.Command {
	var (
		tenant string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List connector/enrichment scan history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return cmdErr("--tenant is required")
			}
			store, err := openScanStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListScanHistory(context.Background(), domain.TenantID(tenant), limit, offset)
			if err != nil {
				return err
			}
			return FormatScanHistory(currentOutputOptions(), rows)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	return cmd
}

type cmdErr string

func (e cmdErr) Error() string { return string(e) }
