package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spectra-red/sentinel/internal/domain"
)

// NewSecretsCommand manages credential_ref entries in the local secret
// store (internal/secrets), the operator-facing counterpart to
// connectors' CredentialResolver.
func NewSecretsCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "secrets",
		Short: "Manage connector credential_ref entries",
	}
	root.AddCommand(newSecretsSetCommand())
	return root
}

func newSecretsSetCommand() *cobra.Command {
	var values []string
	var tenant string

	cmd := &cobra.Command{
		Use:   "set <credential-ref>",
		Short: "Store a credential_ref payload as key=value pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := args[0]
			payload := make(map[string]string, len(values))
			for _, kv := range values {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --value %q, expected key=value", kv)
				}
				payload[k] = v
			}
			if len(payload) == 0 {
				return fmt.Errorf("at least one --value key=value is required")
			}

			resolver, err := openSecrets()
			if err != nil {
				return err
			}
			if err := resolver.Store(ref, payload); err != nil {
				return err
			}

			if scanStore, err := openScanStore(); err == nil {
				defer scanStore.Close()
				_ = scanStore.RecordAudit(context.Background(), uuid.NewString(), domain.TenantID(tenant), "", "secrets.set", "credential_ref", ref, "{}", "", time.Now().UTC())
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stored credential_ref %q (%d field(s))\n", ref, len(payload))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&values, "value", nil, "credential field as key=value (repeatable)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID this credential_ref belongs to (for audit logging)")
	return cmd
}
