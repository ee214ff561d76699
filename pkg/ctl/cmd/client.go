package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/telekom/tenant-control-plane/pkg/ctl/auth"
	"github.com/telekom/tenant-control-plane/pkg/ctl/client"
	"github.com/telekom/tenant-control-plane/pkg/ctl/config"
)

func buildClient(cmdCtx context.Context, rt *runtimeState) (*client.Client, error) {
	options := []client.Option{}
	if rt.cfg != nil && rt.cfg.Settings.Timeout != "" {
		if timeout, err := time.ParseDuration(rt.cfg.Settings.Timeout); err == nil {
			options = append(options, client.WithTimeout(timeout))
		}
	}

	if rt.serverOverride != "" && rt.tokenOverride != "" {
		options = append(options,
			client.WithServer(rt.serverOverride),
			client.WithToken(rt.tokenOverride),
			client.WithTLSConfig("", false),
		)
		return client.New(options...)
	}

	if err := rt.EnsureConfigLoaded(); err != nil {
		return nil, err
	}
	ctxCfg, err := rt.ResolveContext()
	if err != nil {
		return nil, err
	}
	server := ctxCfg.Server
	if rt.serverOverride != "" {
		server = rt.serverOverride
	}

	token := rt.tokenOverride
	if token == "" {
		token, err = resolveStoredToken(cmdCtx, rt, ctxCfg)
		if err != nil {
			return nil, err
		}
	}
	if rt.verbose {
		_, _ = fmt.Fprintf(os.Stderr, "[DEBUG] context=%s server=%s\n", ctxCfg.Name, server)
	}

	options = append(options,
		client.WithServer(server),
		client.WithToken(token),
		client.WithTLSConfig(ctxCfg.CAFile, ctxCfg.InsecureSkipTLSVerify),
	)
	return client.New(options...)
}

func tokenStore(rt *runtimeState) (auth.TokenStore, error) {
	return auth.NewTokenStore(rt.TokenStorage(), config.DefaultTokenPath())
}

// resolveStoredToken returns the token saved by 'cpctl login'. Expired tokens
// are renewed when the context is set up for client credentials.
func resolveStoredToken(cmdCtx context.Context, rt *runtimeState, ctxCfg *config.Context) (string, error) {
	store, err := tokenStore(rt)
	if err != nil {
		return "", err
	}
	tok, err := store.Get(ctxCfg.Name)
	if errors.Is(err, auth.ErrNoToken) {
		return "", fmt.Errorf("not authenticated; run 'cpctl login'")
	}
	if err != nil {
		return "", err
	}
	if !tok.Expired(time.Now()) {
		return tok.AccessToken, nil
	}
	if ctxCfg.TokenURL == "" {
		return "", fmt.Errorf("token for context %s expired; run 'cpctl login'", ctxCfg.Name)
	}
	tok, err = loginWithClientCredentials(cmdCtx, ctxCfg, "")
	if err != nil {
		return "", err
	}
	if err := store.Save(ctxCfg.Name, tok); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func loginWithClientCredentials(ctx context.Context, ctxCfg *config.Context, secret string) (auth.StoredToken, error) {
	secret, err := auth.ResolveClientSecret(secret, ctxCfg.ClientSecretEnv)
	if err != nil {
		return auth.StoredToken{}, err
	}
	return auth.ClientCredentialsLogin(ctx, auth.ClientCredentials{
		TokenURL:     ctxCfg.TokenURL,
		ClientID:     ctxCfg.ClientID,
		ClientSecret: secret,
		Scopes:       ctxCfg.Scopes,
	})
}
