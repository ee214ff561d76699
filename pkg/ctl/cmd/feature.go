package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/ctl/output"
)

func NewFeatureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feature",
		Short: "Query effective feature state of a tenant",
	}
	cmd.AddCommand(newFeatureGetCommand(), newFeatureExplainCommand())
	return cmd
}

func newFeatureGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get TENANT KEY",
		Short: "Print the effective value of one key",
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
			state, err := apiClient.FeatureState(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return rt.render(state, func(w io.Writer) { _, _ = fmt.Fprintln(w, state.Enabled) })
		},
	}
}

func newFeatureExplainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "explain TENANT",
		Short: "Show every key with its effective value and where it comes from",
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
			controls, err := apiClient.EffectiveControls(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rt.render(controls, func(w io.Writer) { output.WriteEffectiveControlTable(w, controls) })
		},
	}
}
