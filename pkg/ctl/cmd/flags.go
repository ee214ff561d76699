package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/ctl/output"
)

func NewFlagsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Inspect and toggle platform-wide system flags",
	}
	cmd.AddCommand(newFlagsListCommand(), newFlagsSetCommand())
	return cmd
}

func newFlagsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List system flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			flags, err := apiClient.ListSystemFlags(cmd.Context())
			if err != nil {
				return err
			}
			return rt.render(flags, func(w io.Writer) { output.WriteSystemFlagTable(w, flags) })
		},
	}
}

func newFlagsSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY true|false",
		Short: "Set a system flag (superadmin only)",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return keyNames(control.SystemKeys()), cobra.ShellCompDirectiveNoFileComp
			}
			return []string{"true", "false"}, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid value %q: expected true or false", args[1])
			}
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			flag, err := apiClient.SetSystemFlag(cmd.Context(), args[0], value)
			if err != nil {
				return err
			}
			return rt.render(flag, func(w io.Writer) { output.WriteSystemFlagTable(w, []control.SystemFlag{flag}) })
		},
	}
}

func keyNames(keys []control.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
