package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpgateway "github.com/vikashloomba/mcp-client-hub-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-client-hub-go/pkg/mcphub"
)

func main() {
	authorizationURL := os.Getenv("AUTHORIZATION_SERVER_URL")
	resourceMetadataURL := os.Getenv("OAUTH_RESOURCE_METADATA_URL")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := mcphub.NewHub(nil, &mcphub.Options{
		ClientInfo: &mcp.Implementation{Name: "gateway-example", Version: "1.0.0"},
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			log.Printf("hub close: %v", err)
		}
	}()

	gatewayOpts := &mcpgateway.Options{
		Addr: ":8787",
		Path: "/mcp",
		Streamable: mcp.StreamableHTTPOptions{
			JSONResponse: true,
		},
	}
	if authorizationURL != "" && resourceMetadataURL != "" {
		gatewayOpts.TokenVerifier = func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
			// Validate token with your upstream authorization server.
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
		}
		gatewayOpts.TokenOptions = &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: resourceMetadataURL,
		}
		gatewayOpts.AuthorizationServer = authorizationURL
	}

	gateway, err := mcpgateway.NewGateway(hub, gatewayOpts)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}
	defer gateway.Close()

	name, err := hub.AddServer("everything", &mcphub.ServerConfig{
		Transport: &mcphub.StdioTransport{
			Command: "npx",
			Args:    []string{"@modelcontextprotocol/server-everything"},
		},
	})
	if err != nil {
		log.Fatalf("failed to add server: %v", err)
	}
	log.Printf("added server %q", name)

	gwOptions := gateway.Options()
	log.Printf("gateway serving Streamable MCP on %s%s", gwOptions.Addr, gwOptions.Path)
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gateway server stopped: %v", err)
	}
}
