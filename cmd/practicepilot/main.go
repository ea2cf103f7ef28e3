package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/siddharthshah87/PracticePilot/internal/actions"
	"github.com/siddharthshah87/PracticePilot/internal/artifact"
	"github.com/siddharthshah87/PracticePilot/internal/config"
	"github.com/siddharthshah87/PracticePilot/internal/engine"
	"github.com/siddharthshah87/PracticePilot/internal/extract"
	"github.com/siddharthshah87/PracticePilot/internal/mcp"
	"github.com/siddharthshah87/PracticePilot/internal/store"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "scan":
		err = runScan(os.Args[2:])
	case "actions":
		err = runActions(os.Args[2:])
	case "profiles":
		err = runProfiles(os.Args[2:])
	case "artifacts":
		err = runArtifacts(os.Args[2:])
	case "import-card":
		err = runImportCard(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "clear":
		err = runClear(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("practicepilot %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are the settings every command that touches storage or the
// extraction service accepts.
type commonFlags struct {
	configPath string
	dbPath     string
	endpoint   string
	model      string
	rest       []string
}

func parseCommon(args []string) (commonFlags, error) {
	var f commonFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		takes := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s requires a value", arg)
			}
			i++
			return args[i], nil
		}
		var err error
		switch arg {
		case "--config":
			f.configPath, err = takes()
		case "--db":
			f.dbPath, err = takes()
		case "--endpoint":
			f.endpoint, err = takes()
		case "--model":
			f.model, err = takes()
		default:
			f.rest = append(f.rest, arg)
		}
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

// session is the wired-up collaborator set behind every command.
type session struct {
	kv        *store.SQLiteKV
	profiles  *store.ProfileStore
	artifacts *store.ArtifactStore
	engine    *engine.Engine
	resolved  config.ResolvedConfig
}

func openSession(f commonFlags) (*session, error) {
	resolved, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  f.configPath,
		CLIDBPath:   f.dbPath,
		CLIEndpoint: f.endpoint,
		CLIModel:    f.model,
	})
	if err != nil {
		return nil, err
	}

	dbPath := resolved.DBPath.OrDefault(store.DefaultDBPath).Value
	kv, err := store.OpenKV(dbPath)
	if err != nil {
		return nil, err
	}

	profiles := store.NewProfileStore(kv, resolved.ProfileCapacity.IntValue(store.DefaultProfileCapacity))
	artifacts := store.NewArtifactStore(kv, resolved.ArtifactCapacity.IntValue(store.DefaultArtifactCapacity))

	var svc extract.Service
	if endpoint := resolved.ExtractEndpoint.Value; endpoint != "" {
		svc = extract.NewClient(extract.ClientConfig{
			Endpoint:    endpoint,
			Model:       resolved.ExtractModel.Value,
			APIKey:      resolved.ExtractAPIKey.Value,
			TimeoutSecs: resolved.ExtractTimeout.IntValue(0),
		})
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if os.Getenv("PRACTICEPILOT_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}

	return &session{
		kv:        kv,
		profiles:  profiles,
		artifacts: artifacts,
		resolved:  resolved,
		engine: engine.New(engine.Config{
			Profiles:  profiles,
			Artifacts: artifacts,
			Service:   svc,
			CacheSize: resolved.ExtractionCacheSize.IntValue(0),
			Logger:    logger,
		}),
	}, nil
}

func (s *session) close() { _ = s.kv.Close() }

func runScan(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}

	var cardPath, textPath string
	for i := 0; i < len(f.rest); i++ {
		switch {
		case f.rest[i] == "--card":
			if i+1 >= len(f.rest) {
				return fmt.Errorf("--card requires a file path")
			}
			i++
			cardPath = f.rest[i]
		case strings.HasPrefix(f.rest[i], "-") && f.rest[i] != "-":
			return fmt.Errorf("unknown flag: %s", f.rest[i])
		default:
			textPath = f.rest[i]
		}
	}

	text, err := readTextInput(textPath)
	if err != nil {
		return err
	}

	var hint *artifact.Artifact
	if cardPath != "" {
		hint, err = readCard(cardPath)
		if err != nil {
			return err
		}
	}

	sess, err := openSession(f)
	if err != nil {
		return err
	}
	defer sess.close()

	res, err := sess.engine.ScanAndMerge(context.Background(), text, hint)
	if err != nil {
		return err
	}
	if res == nil {
		fmt.Println("No subject identity found; nothing merged.")
		return nil
	}

	fmt.Printf("Subject: %s\n", res.Profile.SubjectID)
	fmt.Printf("Source:  %s", res.Provenance)
	if res.FromCache {
		fmt.Print(" (cached)")
	}
	fmt.Println()

	sections := make([]string, 0, len(res.Profile.ObservedSections))
	for name := range res.Profile.ObservedSections {
		sections = append(sections, string(name))
	}
	fmt.Printf("Observed: %s\n", strings.Join(sections, ", "))

	printActions(res.Actions)
	return nil
}

func runActions(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	sess, err := openSession(f)
	if err != nil {
		return err
	}
	defer sess.close()

	subject := strings.Join(f.rest, " ")
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("usage: practicepilot actions <subject name>")
	}

	acts, prof, err := sess.engine.ActionsFor(context.Background(), subject)
	if err != nil {
		return err
	}
	if prof == nil {
		return fmt.Errorf("no profile stored for %q", subject)
	}

	fmt.Printf("Subject: %s\n", prof.SubjectID)
	printActions(acts)
	return nil
}

func runProfiles(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	sess, err := openSession(f)
	if err != nil {
		return err
	}
	defer sess.close()

	all, err := sess.profiles.List(context.Background())
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("No cached profiles.")
		return nil
	}
	for _, p := range all {
		fmt.Printf("%-28s %d section(s)  updated %s\n",
			p.SubjectID, len(p.ObservedSections), p.LastUpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runArtifacts(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	sess, err := openSession(f)
	if err != nil {
		return err
	}
	defer sess.close()

	all, err := sess.artifacts.List(context.Background())
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("No cached benefits cards.")
		return nil
	}
	for _, a := range all {
		name := a.SubscriberName
		if name == "" {
			name = a.MemberID
		}
		fmt.Printf("%-28s %-20s cached %s\n", name, a.Carrier, a.CachedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runImportCard(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	if len(f.rest) != 1 {
		return fmt.Errorf("usage: practicepilot import-card <card.json>")
	}

	card, err := readCard(f.rest[0])
	if err != nil {
		return err
	}
	if card.Key() == "" {
		return fmt.Errorf("card has no identifiers and cannot be cached")
	}

	sess, err := openSession(f)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.artifacts.Save(context.Background(), card); err != nil {
		return err
	}
	fmt.Printf("Stored benefits card %s\n", card.Key())
	return nil
}

func runStats(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	sess, err := openSession(f)
	if err != nil {
		return err
	}
	defer sess.close()

	ctx := context.Background()
	profiles, err := sess.profiles.Count(ctx)
	if err != nil {
		return err
	}
	artifacts, err := sess.artifacts.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Profiles:       %d\n", profiles)
	fmt.Printf("Benefits cards: %d\n", artifacts)
	fmt.Printf("Database:       %s (%d bytes)\n",
		sess.resolved.DBPath.OrDefault(store.DefaultDBPath).Value, sess.kv.DBSize())
	return nil
}

func runClear(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}

	confirmed := false
	for _, arg := range f.rest {
		if arg == "--yes" || arg == "-y" {
			confirmed = true
		}
	}
	if !confirmed {
		return fmt.Errorf("clear removes all cached profiles and cards; pass --yes to confirm")
	}

	sess, err := openSession(f)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.engine.ClearAll(context.Background()); err != nil {
		return err
	}
	fmt.Println("Cleared all cached profiles and benefits cards.")
	return nil
}

func runConfig(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	resolved, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  f.configPath,
		CLIDBPath:   f.dbPath,
		CLIEndpoint: f.endpoint,
		CLIModel:    f.model,
	})
	if err != nil {
		return err
	}
	if resolved.ExtractAPIKey.Value != "" {
		resolved.ExtractAPIKey.Value = "(set)"
	}
	data, err := json.MarshalIndent(resolved, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runMCP(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	sess, err := openSession(f)
	if err != nil {
		return err
	}
	defer sess.close()

	srv := mcp.NewServer(mcp.ServerConfig{
		Engine:    sess.engine,
		Profiles:  sess.profiles,
		Artifacts: sess.artifacts,
		KV:        sess.kv,
		Version:   version,
	})
	return server.ServeStdio(srv)
}

func readTextInput(path string) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(b), nil
}

func readCard(path string) (*artifact.Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var card artifact.Artifact
	if err := json.Unmarshal(b, &card); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &card, nil
}

func printActions(acts []actions.Action) {
	if len(acts) == 0 {
		fmt.Println("\nNo suggested actions.")
		return
	}
	fmt.Printf("\nActions (%d):\n", len(acts))
	for _, a := range acts {
		fmt.Printf("  [%s] %s %s\n", a.Priority, a.Icon, a.Title)
		if a.Detail != "" {
			fmt.Printf("      %s\n", a.Detail)
		}
	}
}

func printUsage() {
	fmt.Printf(`practicepilot %s — Context engine for dental practice management screens

Usage:
  practicepilot <command> [arguments]

Commands:
  scan [file|-]         Scan screen text (default: stdin), merge into the
                        subject's profile, and print suggested actions
  actions <subject>     Regenerate actions for a stored profile
  profiles              List cached subject profiles
  artifacts             List cached benefits cards
  import-card <file>    Store a benefits card from a JSON file
  stats                 Show storage statistics
  clear --yes           Remove all cached profiles and cards
  config                Show resolved configuration with value sources
  mcp                   Serve tools over MCP stdio transport
  version               Print version

Scan Flags:
  --card <file>         Benefits card JSON to use for coverage checks

Common Flags:
  --config <path>       Config file (default: ~/.practicepilot/config.yaml)
  --db <path>           Database path
  --endpoint <url>      Extraction service endpoint (OpenAI-compatible)
  --model <name>        Extraction model name

Environment:
  PRACTICEPILOT_DB, PRACTICEPILOT_ENDPOINT, PRACTICEPILOT_MODEL,
  PRACTICEPILOT_API_KEY, PRACTICEPILOT_DEBUG
`, version)
}
