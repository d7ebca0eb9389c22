package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/connector/aws"
	"github.com/spectra-red/sentinel/internal/connector/azure"
	"github.com/spectra-red/sentinel/internal/connector/entraid"
	"github.com/spectra-red/sentinel/internal/connector/gcp"
	"github.com/spectra-red/sentinel/internal/connector/okta"
	"github.com/spectra-red/sentinel/internal/domain"
	"github.com/spectra-red/sentinel/internal/orchestrator"
)

// NewRunCommand runs a single connector once, synchronously, writing
// to the same graph/scan_history stores cmd/sentineld's Restate
// workflows use — the operator-facing escape hatch for ad hoc/one-off
// runs outside the durable workflow scheduler.
func NewRunCommand() *cobra.Command {
	var (
		tenant        string
		connectorID   string
		connectorType string
		target        string
		credentialRef string
		azureSub      string
		gcpProject    string
		oktaOrgURL    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a connector once against a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" || connectorID == "" || connectorType == "" {
				return fmt.Errorf("--tenant, --connector-id, and --type are required")
			}

			ctype := domain.ConnectorType(connectorType)
			c, err := buildConnector(ctype, connectorID, azureSub, gcpProject, oktaOrgURL)
			if err != nil {
				return err
			}

			logger, _ := zap.NewProduction()
			defer logger.Sync()

			ctx := context.Background()
			db, graph, err := connectGraph(ctx, logger)
			if err != nil {
				return err
			}
			defer db.Close(ctx)

			scanStore, err := openScanStore()
			if err != nil {
				return err
			}
			defer scanStore.Close()

			resolver, err := openSecrets()
			if err != nil {
				return err
			}

			registry := orchestrator.Registry{ctype: c}
			orch := orchestrator.New(registry, scanStore, graph, nil, nil, resolver, nil)

			startedAt := time.Now().UTC()
			summary := orch.RunConnector(ctx, orchestrator.ConnectorRunRequest{
				Tenant:        domain.TenantID(tenant),
				ConnectorID:   connectorID,
				ConnectorType: ctype,
				Config:        connector.DefaultConfig(),
				CredentialRef: credentialRef,
				Target:        target,
			}, startedAt)

			auditDetails := fmt.Sprintf(`{"scan_id":%q,"status":%q}`, summary.ScanID, summary.Status)
			_ = scanStore.RecordAudit(ctx, uuid.NewString(), domain.TenantID(tenant), "", "cli.run", "connector", connectorID, auditDetails, "", time.Now().UTC())

			if summary.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "scan %s: %v\n", summary.ScanID, summary.Err)
			}

			rows, err := scanStore.ListScanHistory(ctx, domain.TenantID(tenant), 1, 0)
			if err != nil {
				return err
			}
			return FormatScanHistory(currentOutputOptions(), rows)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&connectorID, "connector-id", "", "connector instance ID")
	cmd.Flags().StringVar(&connectorType, "type", "", "connector type: aws, azure, gcp, entra_id, okta")
	cmd.Flags().StringVar(&target, "target", "", "connector target (region, org, etc.)")
	cmd.Flags().StringVar(&credentialRef, "credential-ref", "", "credential_ref resolved via the local secret store")
	cmd.Flags().StringVar(&azureSub, "azure-subscription-id", "", "Azure subscription ID (type=azure only)")
	cmd.Flags().StringVar(&gcpProject, "gcp-project", "", "GCP project ID (type=gcp only)")
	cmd.Flags().StringVar(&oktaOrgURL, "okta-org-url", "", "Okta org URL (type=okta only)")

	return cmd
}

func buildConnector(ctype domain.ConnectorType, name, azureSub, gcpProject, oktaOrgURL string) (connector.Connector, error) {
	switch ctype {
	case domain.ConnectorAWS:
		return aws.New(name), nil
	case domain.ConnectorAzure:
		if azureSub == "" {
			return nil, fmt.Errorf("--azure-subscription-id is required for type=azure")
		}
		return azure.New(name, azureSub), nil
	case domain.ConnectorGCP:
		if gcpProject == "" {
			return nil, fmt.Errorf("--gcp-project is required for type=gcp")
		}
		return gcp.New(name, gcpProject), nil
	case domain.ConnectorEntraID:
		return entraid.New(name), nil
	case domain.ConnectorOkta:
		if oktaOrgURL == "" {
			return nil, fmt.Errorf("--okta-org-url is required for type=okta")
		}
		return okta.New(name, oktaOrgURL), nil
	default:
		return nil, fmt.Errorf("unknown connector type %q", ctype)
	}
}
