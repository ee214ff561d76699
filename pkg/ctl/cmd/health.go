package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/ctl/output"
)

func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the platform health snapshot",
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
			snap, err := apiClient.HealthSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			return rt.render(snap, func(w io.Writer) { output.WriteHealthSnapshot(w, snap) })
		},
	}
}
