package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/version"
)

type versionInfo struct {
	Client version.BuildInfo  `json:"client"`
	Server *version.BuildInfo `json:"server,omitempty"`
}

func NewVersionCommand() *cobra.Command {
	var withServer bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show cpctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			info := versionInfo{Client: version.GetBuildInfo()}
			if withServer {
				apiClient, err := buildClient(cmd.Context(), rt)
				if err != nil {
					return err
				}
				server, err := apiClient.ServerVersion(cmd.Context())
				if err != nil {
					return err
				}
				info.Server = &server
			}
			return rt.render(info, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "cpctl %s (commit: %s, built: %s)\n", info.Client.Version, info.Client.GitCommit, info.Client.BuildDate)
				if info.Server != nil {
					_, _ = fmt.Fprintf(w, "server %s (commit: %s, built: %s)\n", info.Server.Version, info.Server.GitCommit, info.Server.BuildDate)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&withServer, "server-version", false, "Also query the server version")
	return cmd
}
