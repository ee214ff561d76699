package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCredentialsLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "cpctl" || pass != "s3cret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"issued","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)

	tok, err := ClientCredentialsLogin(context.Background(), ClientCredentials{TokenURL: srv.URL, ClientID: "cpctl", ClientSecret: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "issued", tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)

	_, err = ClientCredentialsLogin(context.Background(), ClientCredentials{TokenURL: srv.URL, ClientID: "cpctl", ClientSecret: "wrong"})
	assert.Error(t, err)

	_, err = ClientCredentialsLogin(context.Background(), ClientCredentials{ClientID: "cpctl"})
	assert.Error(t, err)
}

func TestResolveClientSecret(t *testing.T) {
	s, err := ResolveClientSecret("inline", "IGNORED")
	require.NoError(t, err)
	assert.Equal(t, "inline", s)

	t.Setenv("CPCTL_TEST_SECRET", "from-env")
	s, err = ResolveClientSecret("", "CPCTL_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", s)

	_, err = ResolveClientSecret("", "CPCTL_TEST_UNSET_SECRET")
	assert.Error(t, err)
	_, err = ResolveClientSecret("", "")
	assert.Error(t, err)
}
