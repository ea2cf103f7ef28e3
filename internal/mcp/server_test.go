package mcp

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/siddharthshah87/PracticePilot/internal/engine"
	"github.com/siddharthshah87/PracticePilot/internal/store"
)

const testScreen = `Patient: Jane Doe
DOB: 03/14/1985

Insurance
Carrier: Delta Dental
Member ID: ZX99810
`

func setupServer(t *testing.T) *server.MCPServer {
	t.Helper()
	kv, err := store.OpenKV(":memory:")
	if err != nil {
		t.Fatalf("OpenKV: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	profiles := store.NewProfileStore(kv, 0)
	artifacts := store.NewArtifactStore(kv, 0)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	eng := engine.New(engine.Config{
		Profiles:  profiles,
		Artifacts: artifacts,
		Logger:    logger,
	})

	return NewServer(ServerConfig{
		Engine:    eng,
		Profiles:  profiles,
		Artifacts: artifacts,
		KV:        kv,
		Version:   "test",
	})
}

// callTool invokes an MCP tool through the JSON-RPC dispatch path.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func TestNewServer(t *testing.T) {
	if srv := setupServer(t); srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestScanTool(t *testing.T) {
	srv := setupServer(t)

	result := callTool(t, srv, "pp_scan", map[string]interface{}{
		"text": testScreen,
	})
	if result.IsError {
		t.Fatalf("scan errored: %s", getTextContent(t, result))
	}

	var payload struct {
		Merged  bool   `json:"merged"`
		Subject string `json:"subject"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing scan result: %v", err)
	}
	if !payload.Merged {
		t.Fatal("expected merged=true")
	}
	if payload.Subject != "Jane Doe" {
		t.Errorf("subject = %q, want Jane Doe", payload.Subject)
	}
}

func TestScanTool_NoIdentity(t *testing.T) {
	srv := setupServer(t)

	result := callTool(t, srv, "pp_scan", map[string]interface{}{
		"text": "Appointment book\n9:00 AM Operatory 2\n",
	})
	if result.IsError {
		t.Fatalf("scan errored: %s", getTextContent(t, result))
	}

	var payload struct {
		Merged bool `json:"merged"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing scan result: %v", err)
	}
	if payload.Merged {
		t.Error("identity-free text must not merge")
	}
}

func TestActionsToolAfterScan(t *testing.T) {
	srv := setupServer(t)

	callTool(t, srv, "pp_scan", map[string]interface{}{"text": testScreen})

	result := callTool(t, srv, "pp_actions", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("actions errored: %s", getTextContent(t, result))
	}
	text := getTextContent(t, result)
	if !strings.Contains(text, "Jane Doe") {
		t.Errorf("actions payload missing subject: %s", text)
	}
}

func TestImportCardToolRejectsAnonymousCard(t *testing.T) {
	srv := setupServer(t)

	result := callTool(t, srv, "pp_import_card", map[string]interface{}{
		"card": `{"carrier": "Delta Dental"}`,
	})
	if !result.IsError {
		t.Fatal("card without identifiers must be rejected")
	}
}

func TestStatsToolCountsScannedProfile(t *testing.T) {
	srv := setupServer(t)

	callTool(t, srv, "pp_scan", map[string]interface{}{"text": testScreen})

	result := callTool(t, srv, "pp_stats", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("stats errored: %s", getTextContent(t, result))
	}

	var stats Stats
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &stats); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}
	if stats.Profiles != 1 {
		t.Errorf("profiles = %d, want 1", stats.Profiles)
	}
	if stats.CurrentSubject != "jane doe" {
		t.Errorf("current subject = %q, want jane doe", stats.CurrentSubject)
	}
}

func TestClearToolRequiresConfirmation(t *testing.T) {
	srv := setupServer(t)

	callTool(t, srv, "pp_scan", map[string]interface{}{"text": testScreen})

	result := callTool(t, srv, "pp_clear", map[string]interface{}{"confirm": "no"})
	if !result.IsError {
		t.Fatal("clear without confirm=yes must be rejected")
	}

	result = callTool(t, srv, "pp_clear", map[string]interface{}{"confirm": "yes"})
	if result.IsError {
		t.Fatalf("clear errored: %s", getTextContent(t, result))
	}

	stats := callTool(t, srv, "pp_stats", map[string]interface{}{})
	var parsed Stats
	if err := json.Unmarshal([]byte(getTextContent(t, stats)), &parsed); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}
	if parsed.Profiles != 0 {
		t.Errorf("profiles after clear = %d, want 0", parsed.Profiles)
	}
}
