package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	mcpgateway "github.com/vikashloomba/mcp-client-hub-go/pkg/mcp-gateway"
)

var (
	serveAddr        string
	servePath        string
	servePrefix      bool
	serveSeparator   string
	serveCORSOrigins []string
	serveTokenEnv    string
	serveStateless   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the merged toolset as a Streamable MCP endpoint",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8700", "Listen address")
	serveCmd.Flags().StringVar(&servePath, "path", "/mcp", "HTTP path of the MCP endpoint")
	serveCmd.Flags().BoolVar(&servePrefix, "prefix", false, "Expose tools as <server><sep><tool> instead of the flat toolset")
	serveCmd.Flags().StringVar(&serveSeparator, "separator", "__", "Separator used with --prefix")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigins, "cors-origin", nil, "Allowed CORS origins (repeatable)")
	serveCmd.Flags().StringVar(&serveTokenEnv, "token-env", "", "Require this environment variable's value as a bearer token")
	serveCmd.Flags().BoolVar(&serveStateless, "stateless", false, "Run the Streamable handler without sessions")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	hub, err := openHub(logger)
	if err != nil {
		return err
	}
	defer closeHub(hub, logger)

	opts := &mcpgateway.Options{
		Implementation: &mcp.Implementation{Name: "mcphub", Title: "MCP Hub", Version: version},
		Addr:           serveAddr,
		Path:           servePath,
		Logger:         logger,
		Streamable:     mcp.StreamableHTTPOptions{Stateless: serveStateless},
	}
	if servePrefix {
		opts.Namespace = mcpgateway.ServerPrefixNamespace{Separator: serveSeparator}
	}
	if len(serveCORSOrigins) > 0 {
		opts.CORS = &cors.Options{
			AllowedOrigins:   serveCORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Mcp-Session-Id"},
			AllowCredentials: true,
		}
	}
	if serveTokenEnv != "" {
		expected := os.Getenv(serveTokenEnv)
		if expected == "" {
			return errors.New("serve: --token-env names an empty variable")
		}
		opts.TokenVerifier = staticTokenVerifier(expected)
	}

	gateway, err := mcpgateway.NewGateway(hub, opts)
	if err != nil {
		return err
	}
	defer gateway.Close()

	err = gateway.ListenAndServe(cmd.Context())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func staticTokenVerifier(expected string) auth.TokenVerifier {
	return func(_ context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			return nil, auth.ErrInvalidToken
		}
		return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
	}
}
