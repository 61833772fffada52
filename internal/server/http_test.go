package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/receptionist/internal/dispatch"
	"github.com/teemow/receptionist/internal/server"
	"github.com/teemow/receptionist/internal/tools"
)

type routeLive struct{}

func (routeLive) Dispatch(context.Context, dispatch.Call) (any, error) {
	return dispatch.TransferResult{Status: "transferring"}, nil
}

func newMCPHandler(t *testing.T) http.Handler {
	t.Helper()
	mcpSrv := mcpserver.NewMCPServer("receptionist", "test", mcpserver.WithToolCapabilities(true))
	tools.Register(mcpSrv, tools.NewInvoker(routeLive{}, nil, nil))
	return server.NewHTTPServer(server.HTTPServerConfig{
		WebhookToken: testToken,
		MCPServer:    mcpSrv,
	}).Handler()
}

func mcpPost(h http.Handler, body, session string, withToken bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if withToken {
		req.Header.Set(server.WebhookTokenHeader, testToken)
	}
	if session != "" {
		req.Header.Set("Mcp-Session-Id", session)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const initializeRequest = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`

func TestMCPRequiresToken(t *testing.T) {
	h := newMCPHandler(t)
	rec := mcpPost(h, initializeRequest, "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMCPListsCanonicalTools(t *testing.T) {
	h := newMCPHandler(t)

	rec := mcpPost(h, initializeRequest, "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := rec.Header().Get("Mcp-Session-Id")

	rec = mcpPost(h, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, session, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, tool := range dispatch.Tools() {
		assert.Contains(t, rec.Body.String(), `"`+tool.String()+`"`)
	}

	rec = mcpPost(h, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"route_live","arguments":{}}}`, session, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `transferring`)
}
