package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/ctl/output"
)

func NewAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit trail (superadmin only)",
	}
	cmd.AddCommand(newAuditListCommand())
	return cmd
}

func newAuditListCommand() *cobra.Command {
	var (
		filter control.AuditFilter
		kind   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.TargetKind = control.TargetKind(kind)
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			entries, err := apiClient.ListAudit(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return rt.render(entries, func(w io.Writer) { output.WriteAuditTable(w, entries) })
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Target kind: system_flag, tenant_control, failure_record")
	cmd.Flags().StringVar(&filter.TargetKey, "key", "", "Target key or failure id")
	cmd.Flags().StringVar(&filter.TenantID, "tenant", "", "Tenant id")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of entries")
	return cmd
}
