package lsp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURI = "file:///work/Proj/Main.lean"

func notification(t *testing.T, method string, params any) *jsonrpc2.Request {
	t.Helper()
	data, err := json.Marshal(params)
	require.NoError(t, err)
	raw := json.RawMessage(data)
	return &jsonrpc2.Request{Method: method, Notif: true, Params: &raw}
}

// openedClient has testURI open at version.
func openedClient(version int) *Client {
	c := &Client{wait: 20 * time.Millisecond, files: make(map[string]*fileState)}
	c.files[testURI] = &fileState{version: version, ready: make(chan struct{})}
	return c
}

func isReady(c *Client) bool {
	select {
	case <-c.files[testURI].ready:
		return true
	default:
		return false
	}
}

func progress(version int, processing ...any) map[string]any {
	if processing == nil {
		processing = []any{}
	}
	return map[string]any{
		"textDocument": map[string]any{"uri": testURI, "version": version},
		"processing":   processing,
	}
}

func TestHandle_FileProgressMarksCurrentVersionReady(t *testing.T) {
	c := openedClient(2)

	c.Handle(context.Background(), nil, notification(t, MethodFileProgress, progress(2, map[string]any{"kind": 1})))
	assert.False(t, isReady(c), "still processing")

	c.Handle(context.Background(), nil, notification(t, MethodFileProgress, progress(2)))
	assert.True(t, isReady(c))
}

func TestHandle_FileProgressOfEarlierVersionIgnored(t *testing.T) {
	c := openedClient(2)

	c.Handle(context.Background(), nil, notification(t, MethodFileProgress, progress(1)))
	assert.False(t, isReady(c))
}

func TestHandle_StaleDiagnosticsIgnored(t *testing.T) {
	c := openedClient(2)
	ctx := context.Background()

	diag := func(version int, message string) map[string]any {
		return map[string]any{
			"uri":     testURI,
			"version": version,
			"diagnostics": []map[string]any{{
				"range":   map[string]any{"start": map[string]any{"line": 0, "character": 0}, "end": map[string]any{"line": 0, "character": 1}},
				"message": message,
			}},
		}
	}

	c.Handle(ctx, nil, notification(t, MethodPublishDiagnostics, diag(2, "current")))
	c.Handle(ctx, nil, notification(t, MethodPublishDiagnostics, diag(1, "stale")))

	got, err := c.Diagnostics(ctx, testURI)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "current", got[0].Message)
}
