// timelinectl runs maintenance tasks against the timeline database:
// applying migrations, checking a user's closure table against the parent
// edges, rebuilding it, and printing a subtree.
//
//	timelinectl migrate
//	timelinectl verify --user u1
//	timelinectl repair --user u1
//	timelinectl tree --node n1
//
// Connection settings come from the same environment variables and YAML
// file as the API server, and may be overridden with flags.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/config"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/store"
)

var errInconsistent = errors.New("closure table is inconsistent")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath    string
	envFile       string
	driver        string
	databaseURL   string
	migrationsDir string
	userID        string
	nodeID        string
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("timelinectl", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&opts.envFile, "env-file", "", "dotenv file loaded into the environment first")
	flagSet.StringVar(&opts.driver, "driver", "", "database driver: pgx or sqlite")
	flagSet.StringVar(&opts.databaseURL, "database-url", "", "database connection string")
	flagSet.StringVar(&opts.migrationsDir, "migrations", "", "root directory holding per-dialect migrations")
	flagSet.StringVar(&opts.userID, "user", "", "user whose closure rows to verify or repair")
	flagSet.StringVar(&opts.nodeID, "node", "", "root node for tree")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stdout, flagSet)
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		printUsage(stdout, flagSet)
		return fmt.Errorf("expected exactly one command, got %d", flagSet.NArg())
	}
	command := flagSet.Arg(0)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	db, dialect, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	hierarchy := store.NewHierarchyStore(db, dialect)

	switch command {
	case "migrate":
		if err := store.ApplyMigrations(ctx, db, dialect, store.MigrationsDir(cfg.MigrationsDir, dialect)); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "migrations applied (%s)\n", dialect)
		return nil

	case "verify":
		if opts.userID == "" {
			return errors.New("verify requires --user")
		}
		report, err := hierarchy.VerifyClosure(ctx, opts.userID)
		if err != nil {
			return err
		}
		if err := writeJSON(stdout, report); err != nil {
			return err
		}
		if !report.Consistent() {
			return errInconsistent
		}
		return nil

	case "repair":
		if opts.userID == "" {
			return errors.New("repair requires --user")
		}
		written, err := hierarchy.RebuildClosure(ctx, opts.userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "rebuilt %d closure rows for %s\n", written, opts.userID)
		return nil

	case "tree":
		if opts.nodeID == "" {
			return errors.New("tree requires --node")
		}
		return printTree(ctx, stdout, hierarchy, opts.nodeID)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func loadConfig(opts options) (config.Config, error) {
	if opts.envFile != "" {
		if err := config.LoadDotEnv(opts.envFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg := config.Load()
	if opts.configPath != "" {
		loaded, err := config.LoadFile(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if opts.driver != "" {
		cfg.DatabaseDriver = opts.driver
	}
	if opts.databaseURL != "" {
		cfg.DatabaseURL = opts.databaseURL
	}
	if opts.migrationsDir != "" {
		cfg.MigrationsDir = opts.migrationsDir
	}
	return cfg, nil
}

func printTree(ctx context.Context, w io.Writer, hierarchy *store.HierarchyStore, nodeID string) error {
	root, err := hierarchy.GetByID(ctx, nodeID, "")
	if err != nil {
		return err
	}
	if root == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}
	descendants, err := hierarchy.GetDescendants(ctx, nodeID)
	if err != nil {
		return err
	}

	children := make(map[string][]store.TimelineNode)
	for _, d := range descendants {
		if d.ParentID != nil {
			children[*d.ParentID] = append(children[*d.ParentID], d.TimelineNode)
		}
	}

	var walk func(node store.TimelineNode, depth int)
	walk = func(node store.TimelineNode, depth int) {
		fmt.Fprintf(w, "%s%s [%s]%s\n", strings.Repeat("  ", depth), node.ID, node.Type, titleOf(node))
		for _, child := range children[node.ID] {
			walk(child, depth+1)
		}
	}
	walk(*root, 0)
	return nil
}

func titleOf(node store.TimelineNode) string {
	if title, ok := node.Meta["title"].(string); ok && title != "" {
		return " " + title
	}
	return ""
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: timelinectl [flags] migrate|verify|repair|tree")
	fmt.Fprintln(w)
	fmt.Fprint(w, flagSet.FlagUsages())
}
