package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/ctl/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cpctl contexts",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigUseContextCommand(), newConfigGetContextsCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		ctxCfg config.Context
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init --server URL",
		Short: "Create a config file with a single context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPath
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config %s already exists; use --force to overwrite", path)
			}
			cfg := config.DefaultConfig()
			cfg.Contexts = []config.Context{ctxCfg}
			cfg.CurrentContext = ctxCfg.Name
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&ctxCfg.Name, "name", "default", "Context name")
	cmd.Flags().StringVar(&ctxCfg.Server, "server", "", "Control plane URL")
	cmd.Flags().StringVar(&ctxCfg.CAFile, "ca-file", "", "CA bundle for the server certificate")
	cmd.Flags().BoolVar(&ctxCfg.InsecureSkipTLSVerify, "insecure-skip-tls-verify", false, "Skip server certificate verification")
	cmd.Flags().StringVar(&ctxCfg.TokenURL, "token-url", "", "OAuth2 token endpoint for client credentials login")
	cmd.Flags().StringVar(&ctxCfg.ClientID, "client-id", "", "OAuth2 client id")
	cmd.Flags().StringVar(&ctxCfg.ClientSecretEnv, "client-secret-env", "", "Environment variable holding the client secret")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}

func newConfigUseContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-context NAME",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if rt.cfg == nil {
				return errors.New("config not loaded")
			}
			if _, err := rt.cfg.FindContext(args[0]); err != nil {
				return err
			}
			rt.cfg.CurrentContext = args[0]
			if err := config.Save(rt.configPath, rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Switched to context %s\n", args[0])
			return nil
		},
	}
}

func newConfigGetContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-contexts",
		Short: "List configured contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			current := rt.ResolveContextName()
			for _, c := range rt.cfg.Contexts {
				marker := " "
				if c.Name == current {
					marker = "*"
				}
				_, _ = fmt.Fprintf(rt.Writer(), "%s %s\t%s\n", marker, c.Name, c.Server)
			}
			return nil
		},
	}
}
