// Package mcp provides a Model Context Protocol server for PracticePilot.
//
// It exposes the context engine (scan, actions, profiles, artifacts,
// stats, clear) as MCP tools, and recent profiles plus session stats as
// MCP resources, over stdio transport for desktop MCP clients.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/siddharthshah87/PracticePilot/internal/artifact"
	"github.com/siddharthshah87/PracticePilot/internal/engine"
	"github.com/siddharthshah87/PracticePilot/internal/store"
)

// ServerConfig holds the collaborators the MCP server exposes.
type ServerConfig struct {
	Engine    *engine.Engine
	Profiles  *store.ProfileStore
	Artifacts *store.ArtifactStore
	KV        *store.SQLiteKV
	Version   string
}

// dbMu serializes all MCP tool calls that touch the engine or database.
// The mcp-go library dispatches handlers concurrently via goroutines, and
// the engine's merge pipeline assumes serialized scans, so a global mutex
// ensures a scan completes before a profile query sees its result.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all PracticePilot tools
// and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"PracticePilot",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerScanTool(s, cfg.Engine)
	registerActionsTool(s, cfg.Engine)
	registerProfilesTool(s, cfg.Profiles)
	registerArtifactsTool(s, cfg.Artifacts)
	registerImportCardTool(s, cfg.Artifacts)
	registerStatsTool(s, cfg)
	registerClearTool(s, cfg.Engine)

	registerRecentProfilesResource(s, cfg.Profiles)
	registerStatsResource(s, cfg)

	return s
}

// --- Tools ---

func registerScanTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("pp_scan",
		mcp.WithDescription("Feed a screen of practice-management text through the context engine: derives the subject, extracts structured sections, merges them into the subject's profile, and returns the profile with its prioritized action list."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Raw screen text to scan"),
		),
		mcp.WithString("card",
			mcp.Description("Optional benefits card as a JSON object; stored and used for coverage checks"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}

		var hint *artifact.Artifact
		if raw, err := req.RequireString("card"); err == nil && strings.TrimSpace(raw) != "" {
			var card artifact.Artifact
			if err := json.Unmarshal([]byte(raw), &card); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid card JSON: %v", err)), nil
			}
			hint = &card
		}

		res, err := eng.ScanAndMerge(ctx, text, hint)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scan error: %v", err)), nil
		}
		if res == nil {
			data, _ := json.MarshalIndent(map[string]any{
				"merged":  false,
				"message": "no subject identity found in text",
			}, "", "  ")
			return mcp.NewToolResultText(string(data)), nil
		}

		payload := map[string]any{
			"merged":     true,
			"subject":    res.Profile.SubjectID,
			"from_cache": res.FromCache,
			"provenance": res.Provenance,
			"profile":    res.Profile,
			"actions":    res.Actions,
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerActionsTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("pp_actions",
		mcp.WithDescription("Regenerate the prioritized action list for a stored subject profile without a new scan."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("subject",
			mcp.Description("Subject name; defaults to the currently tracked subject"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		subject := ""
		if v, err := req.RequireString("subject"); err == nil {
			subject = strings.TrimSpace(v)
		}
		if subject == "" {
			subject = eng.CurrentSubject()
		}
		if subject == "" {
			return mcp.NewToolResultError("no subject given and none tracked yet"), nil
		}

		acts, prof, err := eng.ActionsFor(ctx, subject)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("actions error: %v", err)), nil
		}
		if prof == nil {
			return mcp.NewToolResultError(fmt.Sprintf("no profile stored for %q", subject)), nil
		}

		data, _ := json.MarshalIndent(map[string]any{
			"subject": prof.SubjectID,
			"actions": acts,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerProfilesTool(s *server.MCPServer, profiles *store.ProfileStore) {
	tool := mcp.NewTool("pp_profiles",
		mcp.WithDescription("List cached subject profiles, newest first, with observed sections and last update time."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of profiles to return (default: 20)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		limit := 20
		if v, err := req.RequireFloat("limit"); err == nil && int(v) > 0 {
			limit = int(v)
		}

		all, err := profiles.List(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("profiles error: %v", err)), nil
		}
		if len(all) > limit {
			all = all[:limit]
		}

		type summary struct {
			Subject     string   `json:"subject"`
			Sections    []string `json:"sections"`
			LastUpdated string   `json:"last_updated"`
		}
		out := make([]summary, 0, len(all))
		for _, p := range all {
			sections := make([]string, 0, len(p.ObservedSections))
			for name := range p.ObservedSections {
				sections = append(sections, string(name))
			}
			out = append(out, summary{
				Subject:     p.SubjectID,
				Sections:    sections,
				LastUpdated: p.LastUpdatedAt.Format("2006-01-02 15:04:05"),
			})
		}

		data, _ := json.MarshalIndent(map[string]any{"profiles": out, "count": len(out)}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerArtifactsTool(s *server.MCPServer, artifacts *store.ArtifactStore) {
	tool := mcp.NewTool("pp_artifacts",
		mcp.WithDescription("List cached benefits cards, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		all, err := artifacts.List(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("artifacts error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(map[string]any{"artifacts": all, "count": len(all)}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerImportCardTool(s *server.MCPServer, artifacts *store.ArtifactStore) {
	tool := mcp.NewTool("pp_import_card",
		mcp.WithDescription("Store a benefits card so later scans can use it for coverage checks. The card must carry at least one identifier (member ID or subscriber name)."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("card",
			mcp.Required(),
			mcp.Description("Benefits card as a JSON object"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		raw, err := req.RequireString("card")
		if err != nil {
			return mcp.NewToolResultError("card is required"), nil
		}
		var card artifact.Artifact
		if err := json.Unmarshal([]byte(raw), &card); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid card JSON: %v", err)), nil
		}
		if card.Key() == "" {
			return mcp.NewToolResultError("card has no identifiers and cannot be cached"), nil
		}
		if err := artifacts.Save(ctx, &card); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("import error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(map[string]any{"stored": true, "key": card.Key()}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("pp_stats",
		mcp.WithDescription("Session and storage statistics: cached profiles, benefits cards, extraction cache entries, tracked subject, and database size."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := gatherStats(ctx, cfg)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(stats, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerClearTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("pp_clear",
		mcp.WithDescription("Clear all cached profiles, benefits cards, and the extraction cache. Irreversible."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("confirm",
			mcp.Required(),
			mcp.Description("Must be the literal string 'yes'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		confirm, err := req.RequireString("confirm")
		if err != nil || confirm != "yes" {
			return mcp.NewToolResultError("pass confirm=yes to clear all cached data"), nil
		}
		if err := eng.ClearAll(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("clear error: %v", err)), nil
		}
		return mcp.NewToolResultText(`{"cleared": true}`), nil
	})
}

// Stats is the payload shared by the stats tool and resource.
type Stats struct {
	Profiles       int    `json:"profiles"`
	Artifacts      int    `json:"artifacts"`
	CachedResults  int    `json:"cached_extractions"`
	CurrentSubject string `json:"current_subject,omitempty"`
	DBSizeBytes    int64  `json:"db_size_bytes"`
}

func gatherStats(ctx context.Context, cfg ServerConfig) (*Stats, error) {
	profiles, err := cfg.Profiles.Count(ctx)
	if err != nil {
		return nil, err
	}
	artifacts, err := cfg.Artifacts.Count(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Profiles:       profiles,
		Artifacts:      artifacts,
		CachedResults:  cfg.Engine.CacheLen(),
		CurrentSubject: cfg.Engine.CurrentSubject(),
	}
	if cfg.KV != nil {
		stats.DBSizeBytes = cfg.KV.DBSize()
	}
	return stats, nil
}
