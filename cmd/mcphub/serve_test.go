package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-client-hub-go/pkg/mcphub"
)

func TestStaticTokenVerifier(t *testing.T) {
	verify := staticTokenVerifier("secret")

	info, err := verify(context.Background(), "secret", nil)
	require.NoError(t, err)
	assert.False(t, info.Expiration.IsZero())

	_, err = verify(context.Background(), "guess", nil)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAnyStarting(t *testing.T) {
	st := mcphub.HubStatus{Connections: map[string]mcphub.ConnectionStatus{
		"a": {Status: mcphub.StateReady},
		"b": {Status: mcphub.StateError, Error: "boom"},
	}}
	assert.False(t, anyStarting(st))

	st.Connections["c"] = mcphub.ConnectionStatus{Status: mcphub.StateStarting}
	assert.True(t, anyStarting(st))
}

func TestLogJSONRPCFlag(t *testing.T) {
	require.NoError(t, rootCmd.PersistentFlags().Parse([]string{"--log-jsonrpc"}))
	t.Cleanup(func() { logJSONRPC = false })

	logger := newLogger()
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	opts := hubOptions(logger)
	dialer, ok := opts.Dialer.(*mcphub.SDKDialer)
	require.True(t, ok, "dialer is %T", opts.Dialer)
	assert.True(t, dialer.LogJSONRPC)
	assert.Same(t, logger, dialer.Logger)
}
