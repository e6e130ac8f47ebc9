package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-client-hub-go/pkg/mcphub"
)

var (
	statusJSON bool
	statusWait time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect to every configured server and report its state",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the full status snapshot as JSON")
	statusCmd.Flags().DurationVar(&statusWait, "wait", 30*time.Second, "How long to wait for servers to finish connecting")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	hub, err := openHub(logger)
	if err != nil {
		return err
	}
	defer closeHub(hub, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), statusWait)
	defer cancel()
	st := waitSettled(ctx, hub)

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(st)
	return nil
}

func printStatus(st mcphub.HubStatus) {
	if len(st.Servers) == 0 {
		fmt.Println("No servers configured.")
		return
	}
	fmt.Printf("%-24s %-10s %-6s %s\n", "Server", "Status", "Tools", "Detail")
	for _, name := range st.Servers {
		conn := st.Connections[name]
		enabled := 0
		for _, tool := range conn.Tools {
			if !tool.Disabled {
				enabled++
			}
		}
		fmt.Printf("%-24s %-10s %-6d %s\n", name, conn.Status, enabled, conn.Error)
	}
	fmt.Printf("\n%d tools exposed\n", len(st.Toolset))
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the merged toolset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger()
		hub, err := openHub(logger)
		if err != nil {
			return err
		}
		defer closeHub(hub, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), statusWait)
		defer cancel()
		st := waitSettled(ctx, hub)
		if len(st.Toolset) == 0 {
			fmt.Println("No tools available.")
			return nil
		}
		names := make([]string, 0, len(st.Toolset))
		for name := range st.Toolset {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			tool := st.Toolset[name]
			fmt.Printf("%-32s %-20s %s\n", name, tool.Server, tool.Description)
		}
		return nil
	},
}

func init() {
	toolsCmd.Flags().DurationVar(&statusWait, "wait", 30*time.Second, "How long to wait for servers to finish connecting")
}
