package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/ctl/config"
	"github.com/telekom/tenant-control-plane/pkg/ctl/output"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath           string
	cfg                  *config.Config
	contextOverride      string
	outputFormat         string
	serverOverride       string
	tokenOverride        string
	tokenStorageOverride string
	verbose              bool
	writer               io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:           "cpctl",
		Short:         "Tenant control plane CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt.applyEnv()
			if cmd.Name() == "version" || cmd.Name() == "init" {
				return nil
			}
			// Server and token given explicitly: no config file needed.
			if rt.serverOverride != "" && rt.tokenOverride != "" {
				c := config.DefaultConfig()
				rt.cfg = &c
				return nil
			}
			return rt.EnsureConfigLoaded()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.contextOverride, "context", "c", "", "Context name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.serverOverride, "server", "", "Server override (bypass config)")
	root.PersistentFlags().StringVar(&rt.tokenOverride, "token", "", "Bearer token override")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: keychain or file")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Log requests to stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewConfigCommand(),
		NewLoginCommand(),
		NewLogoutCommand(),
		NewFlagsCommand(),
		NewControlsCommand(),
		NewFailuresCommand(),
		NewFeatureCommand(),
		NewHealthCommand(),
		NewAuditCommand(),
		NewVersionCommand(),
	)

	return root
}

func (rt *runtimeState) applyEnv() {
	if rt.writer == nil {
		rt.writer = os.Stdout
	}
	if rt.configPath == "" {
		rt.configPath = config.DefaultConfigPath()
	}
	if rt.contextOverride == "" {
		rt.contextOverride = os.Getenv("CPCTL_CONTEXT")
	}
	if rt.outputFormat == "" {
		rt.outputFormat = os.Getenv("CPCTL_OUTPUT")
	}
	if rt.serverOverride == "" {
		rt.serverOverride = os.Getenv("CPCTL_SERVER")
	}
	if rt.tokenOverride == "" {
		rt.tokenOverride = os.Getenv("CPCTL_TOKEN")
	}
	if rt.tokenStorageOverride == "" {
		rt.tokenStorageOverride = os.Getenv("CPCTL_TOKEN_STORAGE")
	}
	if !rt.verbose {
		rt.verbose = strings.EqualFold(os.Getenv("CPCTL_VERBOSE"), "true")
	}
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("no config found; run 'cpctl config init' or pass --server and --token")
		}
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) ResolveContextName() string {
	if rt.contextOverride != "" {
		return rt.contextOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentContextOrDefault()
	}
	return ""
}

func (rt *runtimeState) ResolveContext() (*config.Context, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	name := rt.ResolveContextName()
	if name == "" {
		return nil, errors.New("no context configured")
	}
	return rt.cfg.FindContext(name)
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	if rt.outputFormat != "" {
		return output.ParseFormat(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.ParseFormat(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable, nil
}

func (rt *runtimeState) TokenStorage() string {
	if rt.tokenStorageOverride != "" {
		return rt.tokenStorageOverride
	}
	if rt.cfg != nil {
		return rt.cfg.Settings.TokenStorage
	}
	return ""
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

// render writes obj as json/yaml, or calls table for the table format.
func (rt *runtimeState) render(obj any, table func(io.Writer)) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		table(rt.Writer())
		return nil
	}
	return output.WriteObject(rt.Writer(), format, obj)
}
