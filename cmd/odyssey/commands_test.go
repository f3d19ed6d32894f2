package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

func TestRunCommandUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cfg := &app.Config{RedisAddr: "127.0.0.1:0"}

	require.Equal(t, 2, runCommand(context.Background(), cfg, []string{"jobs"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "usage:")

	stderr.Reset()
	require.Equal(t, 2, runCommand(context.Background(), cfg, []string{"ledger", "post"}, &stdout, &stderr))

	stderr.Reset()
	require.Equal(t, 1, runCommand(context.Background(), cfg, []string{"jobs", "trigger", "mail:send"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "unsupported task")
}
