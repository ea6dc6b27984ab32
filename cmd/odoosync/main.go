// Command odoosync runs a single sync pass from the command line.
//
//	odoosync [-full] [-types products,uoms] fetch
//	odoosync categories|products|promotions|dedupe|push|pipeline|status
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/xelth-com/odoostore/internal/app"
	"github.com/xelth-com/odoostore/internal/config"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/logger"
	"github.com/xelth-com/odoostore/internal/services/staging"
	"go.uber.org/zap"
)

func main() {
	os.Exit(execute())
}

// execute runs one command and returns the exit code once every deferred
// cleanup, including stopping an embedded database, has run.
func execute() int {
	full := flag.Bool("full", false, "full fetch instead of incremental")
	types := flag.String("types", "", "comma separated collections to fetch (default all)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: odoosync [flags] fetch|categories|products|promotions|dedupe|push|pipeline|status")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	logg := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cfg.NodeEnv)
	defer func() { _ = logg.Sync() }()

	db, err := database.Connect(cfg.Database, logg)
	if err != nil {
		logg.Error("failed to connect to database", zap.Error(err))
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			logg.Error("database close error", zap.Error(err))
		}
	}()
	if err := db.Migrate(); err != nil {
		logg.Error("migration failed", zap.Error(err))
		return 1
	}

	a, err := app.New(cfg, db, logg)
	if err != nil {
		logg.Error("failed to wire services", zap.Error(err))
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := run(ctx, a, flag.Arg(0), !*full, splitTypes(*types))
	if !isNil(out) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
	if err != nil {
		logg.Error("sync pass failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, a *app.App, command string, incremental bool, types []string) (interface{}, error) {
	r := a.Runner
	switch command {
	case "fetch":
		return r.Fetch(ctx, types, staging.FetchOptions{Incremental: incremental})
	case "categories":
		return r.ImportCategories(ctx, nil)
	case "products":
		return r.ImportProducts(ctx, nil)
	case "promotions":
		return r.ImportPromotions(ctx, nil)
	case "dedupe":
		return r.DeduplicatePromotions(ctx)
	case "push":
		return r.PushStock(ctx)
	case "pipeline":
		return nil, r.RunPipeline(ctx, incremental)
	case "status":
		return a.Staging.Stats(ctx)
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

// isNil also catches a typed nil result such as a push with nothing pending
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

func splitTypes(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
