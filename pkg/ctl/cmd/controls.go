package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/ctl/output"
)

func NewControlsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controls",
		Short: "Manage per-tenant control overrides",
	}
	cmd.AddCommand(newControlsListCommand(), newControlsSetCommand(), newControlsClearCommand())
	return cmd
}

func newControlsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list TENANT",
		Short: "List the overrides stored for a tenant",
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
			controls, err := apiClient.ListTenantControls(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rt.render(controls, func(w io.Writer) { output.WriteTenantControlTable(w, controls) })
		},
	}
}

func newControlsSetCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "set TENANT KEY true|false --reason REASON",
		Short: "Override a control for one tenant (superadmin only)",
		Args:  cobra.ExactArgs(3),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			switch len(args) {
			case 1:
				return keyNames(control.AllKeys()), cobra.ShellCompDirectiveNoFileComp
			case 2:
				return []string{"true", "false"}, cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseBool(args[2])
			if err != nil {
				return fmt.Errorf("invalid value %q: expected true or false", args[2])
			}
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			tc, err := apiClient.SetTenantControl(cmd.Context(), args[0], args[1], value, reason)
			if err != nil {
				return err
			}
			return rt.render(tc, func(w io.Writer) { output.WriteTenantControlTable(w, []control.TenantControl{tc}) })
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the override is needed (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newControlsClearCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "clear TENANT KEY --reason REASON",
		Short: "Remove a tenant override so the system flag applies again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			if err := apiClient.ClearTenantControl(cmd.Context(), args[0], args[1], reason); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Cleared %s for tenant %s\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the override is removed (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
