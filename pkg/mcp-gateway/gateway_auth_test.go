package mcpgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/rs/cors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAuthServer  = "https://auth.example/"
	testMetadataURL = "https://gateway.example/.well-known/oauth-protected-resource"
)

func serveGateway(t *testing.T, opts *Options) *httptest.Server {
	t.Helper()
	gateway, err := NewGateway(newTestHub(t), opts)
	require.NoError(t, err)
	t.Cleanup(gateway.Close)
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	return server
}

func doRequest(t *testing.T, server *httptest.Server, method, path string, header http.Header) *http.Response {
	t.Helper()
	var body *strings.Reader
	if method == http.MethodPost {
		body = strings.NewReader("{}")
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequest(method, server.URL+path, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGatewayBearerToken(t *testing.T) {
	t.Parallel()

	var accepted atomic.Int32
	server := serveGateway(t, &Options{
		TokenVerifier: func(_ context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
			if token != "valid" {
				return nil, auth.ErrInvalidToken
			}
			accepted.Add(1)
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Minute)}, nil
		},
		TokenOptions: &auth.RequireBearerTokenOptions{ResourceMetadataURL: testMetadataURL},
	})

	tests := []struct {
		name       string
		authHeader string
		wantDenied bool
	}{
		{name: "missing", wantDenied: true},
		{name: "wrong token", authHeader: "Bearer nope", wantDenied: true},
		{name: "valid token", authHeader: "Bearer valid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.authHeader != "" {
				header.Set("Authorization", tt.authHeader)
			}
			resp := doRequest(t, server, http.MethodPost, "/mcp", header)
			if !tt.wantDenied {
				assert.NotEqual(t, http.StatusUnauthorized, resp.StatusCode)
				return
			}
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			if tt.authHeader == "" {
				assert.Equal(t, "Bearer resource_metadata="+testMetadataURL, resp.Header.Get("WWW-Authenticate"))
			}
		})
	}
	assert.EqualValues(t, 1, accepted.Load())
}

func TestGatewayWithoutVerifierIsOpen(t *testing.T) {
	t.Parallel()

	server := serveGateway(t, &Options{})
	resp := doRequest(t, server, http.MethodPost, "/mcp", nil)
	assert.NotEqual(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayTokenOptionsNeedVerifier(t *testing.T) {
	t.Parallel()

	_, err := NewGateway(newTestHub(t), &Options{
		TokenOptions: &auth.RequireBearerTokenOptions{Scopes: []string{"tools:call"}},
	})
	require.Error(t, err)
}

func TestGatewayProtectedResourceMetadata(t *testing.T) {
	t.Parallel()

	server := serveGateway(t, &Options{
		TokenVerifier: func(context.Context, string, *http.Request) (*auth.TokenInfo, error) {
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Minute)}, nil
		},
		TokenOptions: &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: testMetadataURL,
			Scopes:              []string{"tools:call"},
		},
		AuthorizationServer: testAuthServer,
	})

	t.Run("no origin", func(t *testing.T) {
		resp := doRequest(t, server, http.MethodGet, protectedResourcePath, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("cross origin", func(t *testing.T) {
		resp := doRequest(t, server, http.MethodGet, protectedResourcePath, http.Header{"Origin": {"https://inspector.example"}})
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

		var meta protectedResourceMetadata
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
		assert.Equal(t, []string{testAuthServer}, meta.AuthorizationServers)
		assert.Equal(t, []string{"tools:call"}, meta.ScopesSupported)
		assert.Equal(t, []string{"header"}, meta.BearerMethodsSupported)
		assert.True(t, strings.HasSuffix(meta.Resource, "/mcp"), "resource %q", meta.Resource)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp := doRequest(t, server, http.MethodPost, protectedResourcePath, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))
	})
}

func TestGatewayMetadataOnlyWithAuthorizationServer(t *testing.T) {
	t.Parallel()

	server := serveGateway(t, &Options{})
	resp := doRequest(t, server, http.MethodGet, protectedResourcePath, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGatewayCORSWrapsEndpoint(t *testing.T) {
	t.Parallel()

	server := serveGateway(t, &Options{
		CORS: &cors.Options{
			AllowedOrigins: []string{"https://app.example"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"*"},
		},
	})

	resp := doRequest(t, server, http.MethodOptions, "/mcp", http.Header{
		"Origin":                        {"https://app.example"},
		"Access-Control-Request-Method": {http.MethodPost},
	})
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = doRequest(t, server, http.MethodOptions, "/mcp", http.Header{
		"Origin":                        {"https://evil.example"},
		"Access-Control-Request-Method": {http.MethodPost},
	})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
