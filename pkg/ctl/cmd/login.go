package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/tenant-control-plane/pkg/ctl/auth"
)

func NewLoginCommand() *cobra.Command {
	var (
		clientSecret string
		tokenStdin   bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for the current context",
		Long: `Stores a bearer token for the current context in the OS keychain or the token file.

With --token-stdin the token is read from standard input. Otherwise the
context's token-url and client-id are used for an OAuth2 client credentials
grant; the secret comes from --client-secret or the context's client-secret-env.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctxCfg, err := rt.ResolveContext()
			if err != nil {
				return err
			}

			var tok auth.StoredToken
			switch {
			case tokenStdin:
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read token: %w", err)
				}
				tok = auth.StoredToken{AccessToken: strings.TrimSpace(line), TokenType: "Bearer"}
				if tok.AccessToken == "" {
					return errors.New("empty token")
				}
			case ctxCfg.TokenURL != "":
				tok, err = loginWithClientCredentials(cmd.Context(), ctxCfg, clientSecret)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("context %s has no token-url; use --token-stdin", ctxCfg.Name)
			}

			store, err := tokenStore(rt)
			if err != nil {
				return err
			}
			if err := store.Save(ctxCfg.Name, tok); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}
			if tok.Expiry.IsZero() {
				_, _ = fmt.Fprintf(rt.Writer(), "Logged in to %s\n", ctxCfg.Name)
			} else {
				_, _ = fmt.Fprintf(rt.Writer(), "Logged in to %s (token expires %s)\n", ctxCfg.Name, tok.Expiry.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret")
	cmd.Flags().BoolVar(&tokenStdin, "token-stdin", false, "Read the bearer token from stdin")
	return cmd
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token of the current context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			name := rt.ResolveContextName()
			if name == "" {
				return errors.New("no context configured")
			}
			store, err := tokenStore(rt)
			if err != nil {
				return err
			}
			if err := store.Delete(name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Logged out of %s\n", name)
			return nil
		},
	}
}
