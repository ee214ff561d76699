package auth

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2/clientcredentials"
)

type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// ResolveClientSecret prefers an explicit secret over the named env variable.
func ResolveClientSecret(secret, envName string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if envName == "" {
		return "", errors.New("client secret is required")
	}
	value := os.Getenv(envName)
	if value == "" {
		return "", fmt.Errorf("environment variable %s is empty", envName)
	}
	return value, nil
}

// ClientCredentialsLogin exchanges client credentials for an access token.
func ClientCredentialsLogin(ctx context.Context, cc ClientCredentials) (StoredToken, error) {
	if cc.TokenURL == "" || cc.ClientID == "" {
		return StoredToken{}, errors.New("token URL and client ID are required")
	}
	cfg := clientcredentials.Config{
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		TokenURL:     cc.TokenURL,
		Scopes:       cc.Scopes,
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return StoredToken{}, fmt.Errorf("client credentials login failed: %w", err)
	}
	return StoredToken{AccessToken: tok.AccessToken, TokenType: tok.TokenType, Expiry: tok.Expiry}, nil
}
