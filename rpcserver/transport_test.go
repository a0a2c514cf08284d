package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/misanthropic-ai/lean-docker-mcp/sandbox"
)

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func newTestServer(t *testing.T, exec *fakeExecutor) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewServer(logger, NewDispatcher(logger, exec))
}

// decodeFrames reads every framed response out of the output buffer.
func decodeFrames(t *testing.T, data string) []Response {
	t.Helper()
	var responses []Response
	rest := data
	for rest != "" {
		header, after, ok := strings.Cut(rest, "\r\n\r\n")
		require.True(t, ok, "incomplete frame header in %q", rest)
		var n int
		_, err := fmt.Sscanf(header, "Content-Length: %d", &n)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(after), n)

		var resp Response
		require.NoError(t, json.Unmarshal([]byte(after[:n]), &resp))
		responses = append(responses, resp)
		rest = after[n:]
	}
	return responses
}

func TestServeSingleRequest(t *testing.T) {
	exec := &fakeExecutor{
		transientResult: &sandbox.ExecutionResult{Status: "success", Output: "42"},
	}
	server := newTestServer(t, exec)

	input := frame(`{"jsonrpc":"2.0","id":1,"method":"execute","params":{"code":"#eval 6 * 7"}}`)
	var out bytes.Buffer
	err := server.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	responses := decodeFrames(t, out.String())
	require.Len(t, responses, 1)
	assert.Nil(t, responses[0].Error)
	assert.Equal(t, json.RawMessage("1"), responses[0].ID)
}

func TestServeMultipleRequestsInOrder(t *testing.T) {
	exec := &fakeExecutor{
		transientResult: &sandbox.ExecutionResult{Status: "success", Output: "ok"},
	}
	server := newTestServer(t, exec)

	input := frame(`{"jsonrpc":"2.0","id":1,"method":"execute","params":{"code":"a"}}`) +
		frame(`{"jsonrpc":"2.0","id":2,"method":"bogus","params":{}}`) +
		frame(`{"jsonrpc":"2.0","id":3,"method":"execute","params":{"code":"b"}}`)
	var out bytes.Buffer
	err := server.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	responses := decodeFrames(t, out.String())
	require.Len(t, responses, 3)
	assert.Equal(t, json.RawMessage("1"), responses[0].ID)
	// A bad method fails that request without ending the connection.
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, CodeMethodNotFound, responses[1].Error.Code)
	assert.Equal(t, json.RawMessage("3"), responses[2].ID)
}

func TestServeCleanEOF(t *testing.T) {
	server := newTestServer(t, &fakeExecutor{})

	var out bytes.Buffer
	err := server.Serve(context.Background(), strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestServeExtraHeadersIgnored(t *testing.T) {
	exec := &fakeExecutor{
		transientResult: &sandbox.ExecutionResult{Status: "success"},
	}
	server := newTestServer(t, exec)

	body := `{"jsonrpc":"2.0","id":1,"method":"execute","params":{"code":"x"}}`
	input := fmt.Sprintf("Content-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	var out bytes.Buffer
	err := server.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)
	require.Len(t, decodeFrames(t, out.String()), 1)
}

func TestServeMissingContentLengthClosesQuietly(t *testing.T) {
	server := newTestServer(t, &fakeExecutor{})

	var out bytes.Buffer
	err := server.Serve(context.Background(), strings.NewReader("X-Whatever: 1\r\n\r\n{}"), &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestServeUndecodableBodyClosesQuietly(t *testing.T) {
	server := newTestServer(t, &fakeExecutor{})

	var out bytes.Buffer
	err := server.Serve(context.Background(), strings.NewReader(frame("not json at all")), &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestServeContextCancellation(t *testing.T) {
	server := newTestServer(t, &fakeExecutor{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := server.Serve(ctx, strings.NewReader(frame(`{}`)), &out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResponseIDEchoesNull(t *testing.T) {
	server := newTestServer(t, &fakeExecutor{
		transientResult: &sandbox.ExecutionResult{Status: "success"},
	})

	input := frame(`{"jsonrpc":"2.0","id":null,"method":"execute","params":{"code":"x"}}`)
	var out bytes.Buffer
	err := server.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	_, after, ok := strings.Cut(out.String(), "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, after, `"id":null`)
}
