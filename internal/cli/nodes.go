package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spectra-red/sentinel/internal/domain"
)

// NewNodesCommand lists graph nodes for a tenant/label.
func NewNodesCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "nodes",
		Short: "Inspect graph nodes",
	}
	root.AddCommand(newNodesListCommand())
	return root
}

func newNodesListCommand() *cobra.Command {
	var (
		tenant string
		label  string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List nodes of a given label for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" || label == "" {
				return cmdErr("--tenant and --label are required")
			}
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			ctx := context.Background()
			db, graph, err := connectGraph(ctx, logger)
			if err != nil {
				return err
			}
			defer db.Close(ctx)

			page, err := graph.ListNodes(ctx, domain.TenantID(tenant), domain.Label(label), nil, limit, offset)
			if err != nil {
				return err
			}
			return FormatNodes(currentOutputOptions(), page)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&label, "label", "", "node label, e.g. Host, Service, Vulnerability")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	return cmd
}
