package main

import (
	"context"
	"fmt"
	"time"

	"github.com/vikashloomba/mcp-client-hub-go/pkg/mcphub"
)

func main() {
	cfg := mcphub.NewServerMap()
	cfg.Set("example-stdio", mcphub.ServerConfig{
		Transport: &mcphub.StdioTransport{
			Command: "./my-mcp-server",
			Args:    []string{"--serve"},
		},
	})

	settled := make(chan mcphub.HubStatus, 1)
	hub := mcphub.NewHub(cfg, &mcphub.Options{
		ConnectTimeout: 10 * time.Second,
		OnStatusChange: func(st mcphub.HubStatus) {
			for _, conn := range st.Connections {
				if conn.Status == mcphub.StateStarting {
					return
				}
			}
			select {
			case settled <- st:
			default:
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st := hub.Status()
	select {
	case st = <-settled:
	case <-ctx.Done():
	}
	for _, id := range st.Servers {
		conn := st.Connections[id]
		fmt.Printf("Configured server: %s\n", id)
		fmt.Printf("Status: %s\n", conn.Status)
		if conn.Error != "" {
			fmt.Printf("Error: %s\n", conn.Error)
		}
	}
	for name, tool := range st.Toolset {
		fmt.Printf("Tool %s (from %s)\n", name, tool.Server)
	}

	if err := hub.Close(ctx); err != nil {
		fmt.Printf("close error: %v\n", err)
	}
}
