package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/ctl/output"
	"github.com/telekom/tenant-control-plane/pkg/failures"
)

func NewFailuresCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Report, inspect and resolve tenant failures",
	}
	cmd.AddCommand(
		newFailuresListCommand(),
		newFailuresViewCommand(),
		newFailuresHistoryCommand(),
		newFailuresGetCommand(),
		newFailuresReportCommand(),
		newFailuresResolveCommand(),
	)
	return cmd
}

func renderFailures(rt *runtimeState, records []control.FailureRecord) error {
	return rt.render(records, func(w io.Writer) { output.WriteFailureTable(w, records) })
}

func newFailuresListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list TENANT",
		Short: "List active failures of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			records, err := apiClient.ListActiveFailures(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderFailures(rt, records)
		},
	}
}

func newFailuresViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view TENANT",
		Short: "Show what the tenant sees, including the incident banner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			records, err := apiClient.FailureView(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderFailures(rt, records)
		},
	}
}

func newFailuresHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history TENANT",
		Short: "List active and resolved failures of a tenant, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			records, err := apiClient.FailureHistory(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return renderFailures(rt, records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	return cmd
}

func newFailuresGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one failure record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			rec, err := apiClient.GetFailure(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderFailures(rt, []control.FailureRecord{rec})
		},
	}
}

func newFailuresReportCommand() *cobra.Command {
	var (
		rep  failures.Report
		cat  string
		sev  string
		meta []string
	)
	cmd := &cobra.Command{
		Use:   "report --tenant TENANT --category CATEGORY --source SOURCE",
		Short: "Report a failure on behalf of a subsystem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep.Category = control.Category(cat)
			rep.Severity = control.Severity(sev)
			if len(meta) > 0 {
				rep.Metadata = make(map[string]string, len(meta))
				for _, kv := range meta {
					k, v, ok := strings.Cut(kv, "=")
					if !ok || k == "" {
						return fmt.Errorf("invalid metadata %q: expected key=value", kv)
					}
					rep.Metadata[k] = v
				}
			}
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			rec, err := apiClient.ReportFailure(cmd.Context(), rep)
			if err != nil {
				return err
			}
			return renderFailures(rt, []control.FailureRecord{rec})
		},
	}
	cmd.Flags().StringVar(&rep.TenantID, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&cat, "category", "", "Failure category: auth, integration, payment, calendar, ai, system (required)")
	cmd.Flags().StringVar(&rep.Source, "source", "", "Reporting subsystem (required)")
	cmd.Flags().StringVar(&sev, "severity", string(control.SeverityWarning), "Severity: info, warning, critical")
	cmd.Flags().StringVarP(&rep.Message, "message", "m", "", "Human readable message")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata as key=value, repeatable")
	for _, f := range []string{"tenant", "category", "source"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newFailuresResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve ID",
		Short: "Mark a failure resolved (superadmin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			rec, err := apiClient.ResolveFailure(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderFailures(rt, []control.FailureRecord{rec})
		},
	}
}
