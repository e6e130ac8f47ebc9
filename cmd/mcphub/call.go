package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <tool> [json-arguments]",
	Short: "Call a tool from the merged toolset",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var toolArgs map[string]any
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
				return fmt.Errorf("parse arguments: %w", err)
			}
		}

		logger := newLogger()
		hub, err := openHub(logger)
		if err != nil {
			return err
		}
		defer closeHub(hub, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
		defer cancel()
		waitSettled(ctx, hub)

		res, err := hub.CallTool(cmd.Context(), args[0], toolArgs)
		if err != nil {
			return err
		}
		for _, content := range res.Content {
			if text, ok := content.(*mcp.TextContent); ok {
				fmt.Println(text.Text)
				continue
			}
			data, err := json.Marshal(content)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		}
		if res.IsError {
			return fmt.Errorf("tool %s reported an error", args[0])
		}
		return nil
	},
}
