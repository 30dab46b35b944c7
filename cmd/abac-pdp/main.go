package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/abac"
	"github.com/oarkflow/abac/logger"
	"github.com/oarkflow/abac/stores"
)

var osExit = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "validate":
		return handleValidate(args[1:], out)
	case "evaluate":
		return handleEvaluate(args[1:], out, false)
	case "explain":
		return handleEvaluate(args[1:], out, true)
	case "policies":
		return handlePolicies(args[1:], out)
	case "audit":
		return handleAudit(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "abac-pdp - attribute based access decisions")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  abac-pdp validate <config>")
	fmt.Fprintln(out, "  abac-pdp evaluate [-config f] [-db f] <user-id> <resource-uri> <action> [key=value...]")
	fmt.Fprintln(out, "  abac-pdp explain  [-config f] [-db f] <user-id> <resource-uri> <action> [key=value...]")
	fmt.Fprintln(out, "  abac-pdp policies [-config f] [-db f] [action]")
	fmt.Fprintln(out, "  abac-pdp audit -db f [-user id] [-resource glob] [-decision ALLOW|DENY] [-limit n]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Config files may be .yaml, .yml or .json. With -db the sqlite file is")
	fmt.Fprintln(out, "migrated, seeded from -config when given, and receives the audit trail.")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func handleValidate(args []string, out io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: abac-pdp validate <config>")
	}
	cfg, err := abac.NewConfigLoader().LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintln(out, "Configuration is valid")
	fmt.Fprintf(out, "  Actions:   %d\n", len(cfg.Actions))
	fmt.Fprintf(out, "  Users:     %d\n", len(cfg.Subjects))
	fmt.Fprintf(out, "  Resources: %d\n", len(cfg.Resources))
	fmt.Fprintf(out, "  Policies:  %d\n", len(cfg.Policies))
	return nil
}

// backend is a directory plus the audit store decisions go to
type backend struct {
	dir    abac.Directory
	audit  abac.AuditStore
	list   func(ctx context.Context) ([]*abac.Policy, error)
	engine abac.EngineConfig
	close  func()
}

func openBackend(ctx context.Context, configPath, dbPath string) (*backend, error) {
	var cfg *abac.Config
	if configPath != "" {
		c, err := abac.NewConfigLoader().LoadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	b := &backend{engine: abac.DefaultEngineConfig(), close: func() {}}
	if cfg != nil {
		b.engine = mergeEngineConfig(b.engine, cfg.Engine)
	}
	var seeder abac.Seeder
	if dbPath == "" {
		if cfg == nil {
			return nil, errors.New("either -config or -db is required")
		}
		dir := abac.NewMemoryDirectory()
		b.dir, b.audit, seeder = dir, abac.NewMemoryAuditStore(), dir
		b.list = func(ctx context.Context) ([]*abac.Policy, error) { return dir.Policies(ctx), nil }
	} else {
		sqlDB, err := sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		db := squealx.NewDb(sqlDB, "sqlite", "abac")
		if err := stores.Migrate(ctx, db); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		dir := stores.NewSQLDirectory(db)
		b.dir, b.audit, seeder = dir, stores.NewSQLAuditStore(db), dir
		b.list = dir.Policies
		b.close = func() { _ = sqlDB.Close() }
	}
	if cfg != nil {
		if err := cfg.Apply(ctx, seeder); err != nil {
			b.close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}
	return b, nil
}

// mergeEngineConfig overlays the non-zero fields of cfg on base
func mergeEngineConfig(base, cfg abac.EngineConfig) abac.EngineConfig {
	if cfg.AuditQueueSize != nil {
		base.AuditQueueSize = cfg.AuditQueueSize
	}
	if cfg.ConditionCacheCounters > 0 {
		base.ConditionCacheCounters = cfg.ConditionCacheCounters
	}
	if cfg.ConditionCacheMaxCost > 0 {
		base.ConditionCacheMaxCost = cfg.ConditionCacheMaxCost
	}
	if cfg.ConditionCacheBuffer > 0 {
		base.ConditionCacheBuffer = cfg.ConditionCacheBuffer
	}
	if cfg.MetricsNamespace != "" {
		base.MetricsNamespace = cfg.MetricsNamespace
	}
	if cfg.Logger != "" {
		base.Logger = cfg.Logger
	}
	return base
}

func handleEvaluate(args []string, out io.Writer, explain bool) error {
	fs := newFlagSet("evaluate")
	configPath := fs.String("config", "", "seed/config file")
	dbPath := fs.String("db", "", "sqlite database file")
	logKind := fs.String("logger", "", "logger: null, phuslu, slog or zap")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 3 {
		return errors.New("usage: abac-pdp evaluate [-config f] [-db f] <user-id> <resource-uri> <action> [key=value...]")
	}
	userID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", rest[0], err)
	}
	env, err := parseContext(rest[3:])
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, err := openBackend(ctx, *configPath, *dbPath)
	if err != nil {
		return err
	}
	defer b.close()

	if *logKind != "" {
		b.engine.Logger = *logKind
	}
	lg, err := logger.New(b.engine.Logger)
	if err != nil {
		return err
	}
	// decisions must be on disk before the database closes
	synchronous := 0
	b.engine.AuditQueueSize = &synchronous
	opts, cache, _, err := b.engine.Options()
	if err != nil {
		return err
	}
	defer cache.Close()
	engine, err := abac.NewEngine(b.dir, b.audit, append(opts, abac.WithLogger(lg))...)
	if err != nil {
		return err
	}
	defer engine.Close()

	req := abac.AuthorizationRequest{SubjectID: userID, ResourceURI: rest[1], ActionName: rest[2], Context: env}
	var result any
	if explain {
		result = engine.Explain(ctx, req)
	} else {
		result = engine.EvaluateAccess(ctx, req)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// parseContext reads key=value pairs; integers and booleans keep their type
func parseContext(pairs []string) (map[string]any, error) {
	env := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid context pair %q, want key=value", kv)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			env[k] = n
		} else if bv, err := strconv.ParseBool(v); err == nil {
			env[k] = bv
		} else {
			env[k] = v
		}
	}
	return env, nil
}

func handlePolicies(args []string, out io.Writer) error {
	fs := newFlagSet("policies")
	configPath := fs.String("config", "", "seed/config file")
	dbPath := fs.String("db", "", "sqlite database file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	b, err := openBackend(ctx, *configPath, *dbPath)
	if err != nil {
		return err
	}
	defer b.close()

	var policies []*abac.Policy
	if fs.NArg() > 0 {
		action, err := b.dir.ActionByName(ctx, fs.Arg(0))
		if err != nil {
			return fmt.Errorf("action %q: %w", fs.Arg(0), err)
		}
		policies, err = b.dir.ApplicablePolicies(ctx, &action.ID)
		if err != nil {
			return err
		}
	} else if policies, err = b.list(ctx); err != nil {
		return err
	}
	for _, p := range policies {
		scope := "global"
		if p.ActionID != nil {
			scope = fmt.Sprintf("action=%d", *p.ActionID)
		}
		state := "active"
		if !p.Active {
			state = "inactive"
		}
		fmt.Fprintf(out, "%4d  %-5s  pri=%-4d %-12s %-8s %s\n", p.ID, p.Effect, p.Priority, scope, state, p.Name)
		fmt.Fprintf(out, "      when %s\n", p.Conditions.Compile().String())
	}
	return nil
}

func handleAudit(args []string, out io.Writer) error {
	fs := newFlagSet("audit")
	dbPath := fs.String("db", "", "sqlite database file")
	user := fs.Int64("user", 0, "user id")
	glob := fs.String("resource", "", "resource uri glob")
	decision := fs.String("decision", "", "ALLOW or DENY")
	limit := fs.Int("limit", 50, "maximum entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return errors.New("usage: abac-pdp audit -db f [-user id] [-resource glob] [-decision ALLOW|DENY] [-limit n]")
	}
	ctx := context.Background()
	b, err := openBackend(ctx, "", *dbPath)
	if err != nil {
		return err
	}
	defer b.close()

	filter := abac.AuditFilter{
		ResourceGlob: *glob,
		Decision:     abac.Effect(strings.ToUpper(*decision)),
		Limit:        *limit,
	}
	if *user != 0 {
		filter.SubjectID = user
	}
	entries, err := b.audit.GetAccessLog(ctx, filter)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
