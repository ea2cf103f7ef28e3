package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/siddharthshah87/PracticePilot/internal/store"
)

func registerRecentProfilesResource(s *server.MCPServer, profiles *store.ProfileStore) {
	resource := mcp.NewResource(
		"practicepilot://profiles/recent",
		"Recent Profiles",
		mcp.WithResourceDescription("The most recently updated subject profiles with their observed sections."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		all, err := profiles.List(ctx)
		if err != nil {
			return nil, err
		}
		if len(all) > 10 {
			all = all[:10]
		}

		payload := map[string]any{
			"profiles": all,
			"count":    len(all),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerStatsResource(s *server.MCPServer, cfg ServerConfig) {
	resource := mcp.NewResource(
		"practicepilot://stats",
		"Session Stats",
		mcp.WithResourceDescription("Cached profile and benefits card counts, extraction cache size, and tracked subject."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := gatherStats(ctx, cfg)
		if err != nil {
			return nil, err
		}
		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
