package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-addons/pkg/addons"
	"github.com/tendant/simple-addons/pkg/addons/auth"
	"github.com/tendant/simple-addons/pkg/addons/config"
	repopg "github.com/tendant/simple-addons/pkg/addons/repo/postgres"
)

const usage = `Simple Add-ons Admin CLI

Maintenance tool for the add-on database, file storage and cache.

USAGE:
  admin <command> [options]

COMMANDS:
  migrate                  Apply database migrations and print the schema version
  list                     List add-ons, featured first
  clear-cache              Remove every unprotected cache file
  clear-addon-cache <id>   Remove the cache files of one add-on
  drain-queue              Remove files whose delayed deletion is due
  issue-token              Sign a bearer token for the API

ENVIRONMENT VARIABLES:
  Run "admin env" for the full list. DATABASE_URL selects postgres.

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

OPTIONS (for list):
  --type=<type>            karts, tracks or arenas (default: all)
  --json                   Output as JSON

OPTIONS (for issue-token):
  --user-id=<n>            User id (required)
  --name=<name>            User name
  --editor                 Grant the edit_addons permission

EXAMPLES:
  admin migrate
  admin list --type=tracks
  admin clear-addon-cache big-track
  admin issue-token --user-id=30 --name=moderator --editor
`

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "help", "--help", "-h":
		fmt.Println(usage)
		return
	case "env":
		config.Usage(os.Stdout)
		return
	}

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	flags := parseFlags(os.Args[2:])

	switch command {
	case "migrate":
		handleMigrate(ctx, cfg)
	case "list":
		svc := buildService(ctx, cfg)
		defer svc.Close()
		handleList(ctx, svc.Store, flags)
	case "clear-cache":
		svc := buildService(ctx, cfg)
		defer svc.Close()
		if err := svc.Cache.Clear(ctx); err != nil {
			log.Fatalf("Failed to clear cache: %v", err)
		}
		fmt.Println("Cache cleared")
	case "clear-addon-cache":
		if len(os.Args) < 3 {
			log.Fatal("clear-addon-cache requires an add-on id")
		}
		svc := buildService(ctx, cfg)
		defer svc.Close()
		cleared, err := svc.Cache.ClearAddon(ctx, os.Args[2])
		if err != nil {
			log.Fatalf("Failed to clear add-on cache: %v", err)
		}
		if !cleared {
			fmt.Printf("No add-on named %q\n", os.Args[2])
			return
		}
		fmt.Printf("Cleared cache of %s\n", os.Args[2])
	case "drain-queue":
		svc := buildService(ctx, cfg)
		defer svc.Close()
		n, err := svc.Files.ProcessDeleteQueue(ctx)
		if err != nil {
			log.Fatalf("Failed to drain delete queue: %v", err)
		}
		fmt.Printf("Removed %d files\n", n)
	case "issue-token":
		handleIssueToken(cfg, flags)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

func buildService(ctx context.Context, cfg *config.Config) *config.Service {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc, err := cfg.BuildService(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}
	return svc
}

func parseFlags(args []string) map[string]string {
	flags := make(map[string]string)
	for _, arg := range args {
		name, ok := strings.CutPrefix(arg, "--")
		if !ok {
			continue
		}
		key, value, found := strings.Cut(name, "=")
		if !found {
			value = "true"
		}
		flags[key] = value
	}
	return flags
}

func handleMigrate(ctx context.Context, cfg *config.Config) {
	if !cfg.UsesPostgres() {
		log.Fatal("migrate requires a postgres DATABASE_URL")
	}
	pool, err := config.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := repopg.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}
	version, err := repopg.MigrationVersion(ctx, pool)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Schema %s at version %d\n", cfg.DBSchema, version)
}

type listedAddon struct {
	ID       string           `json:"id"`
	Type     addons.AddonType `json:"type"`
	Name     string           `json:"name"`
	Designer string           `json:"designer"`
	Latest   int              `json:"latest_revision"`
	Status   string           `json:"status"`
}

func handleList(ctx context.Context, store *addons.Store, flags map[string]string) {
	types := addons.AllowedTypes()
	if t, ok := flags["type"]; ok {
		parsed, err := addons.ParseType(t)
		if err != nil {
			log.Fatalf("Invalid type: %v", err)
		}
		types = []addons.AddonType{parsed}
	}

	var listed []listedAddon
	for _, t := range types {
		ids, err := store.List(ctx, t, true)
		if err != nil {
			log.Fatalf("Failed to list %s: %v", t, err)
		}
		for _, id := range ids {
			addon, err := store.GetWithRevisions(ctx, id)
			if err != nil {
				log.Fatalf("Failed to load %s: %v", id, err)
			}
			item := listedAddon{ID: addon.ID, Type: addon.Type, Name: addon.Name, Designer: addon.DesignerName()}
			if rev, ok := addon.LatestRevision(); ok {
				item.Latest = rev.Revision
				item.Status = rev.Status.String()
			}
			listed = append(listed, item)
		}
	}

	if _, ok := flags["json"]; ok {
		data, _ := json.MarshalIndent(listed, "", "  ")
		fmt.Println(string(data))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tTYPE\tNAME\tDESIGNER\tLATEST\tSTATUS\n")
	for _, item := range listed {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			truncate(item.ID, 30), item.Type, truncate(item.Name, 30), truncate(item.Designer, 20), item.Latest, item.Status)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d\n", len(listed))
}

func handleIssueToken(cfg *config.Config, flags map[string]string) {
	if cfg.JWTSecret == "" {
		log.Fatal("issue-token requires JWT_SECRET")
	}
	id, err := strconv.ParseInt(flags["user-id"], 10, 64)
	if err != nil || id <= 0 {
		log.Fatal("--user-id must be a positive integer")
	}
	user := auth.User{ID: id, Name: flags["name"]}
	if _, ok := flags["editor"]; ok {
		user.Permissions = []addons.Permission{addons.PermEditAddons}
	}
	token, err := auth.IssueToken(auth.NewTokenAuth(cfg.JWTSecret), user)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
