package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mafia-ratings/server/cache"
	"mafia-ratings/server/gamelog"
	"mafia-ratings/server/recorder"
	"mafia-ratings/server/store"
)

type options struct {
	migrate    bool
	replay     bool
	replayCSV  string // empty replays the store's own history
	legacyEras bool
}

func parseArgs(args []string) (options, error) {
	var o options
	for i := 0; i < len(args); i++ {
		switch a := args[i]; a {
		case "--migrate":
			o.migrate = true
		case "--legacy-eras":
			o.legacyEras = true
		case "--replay":
			o.replay = true
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				o.replayCSV = args[i+1]
				i++
			}
		default:
			return o, fmt.Errorf("unknown argument %q", a)
		}
	}
	return o, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	recCfg, err := cfg.recorderConfig(opts.legacyEras)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg, opts.migrate)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStore()

	if opts.migrate {
		log.Println("migrated")
		return
	}
	if opts.replay {
		if err := runReplay(ctx, st, recCfg, opts.replayCSV); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	rc, err := cache.Open(ctx, cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		log.Printf("cache disabled: %v", err)
		rc = nil
	}
	defer rc.Close()

	api := NewAPI(st, recCfg, rc)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      Router(api, cfg.CORSOrigins, cfg.RequestTimeout),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("listening on http://localhost:%s (store=%s, eras=%d, exclude=%s)",
			cfg.Port, cfg.StoreDriver, len(recCfg.Eras), recCfg.ExcludePolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown failed: %v", err)
	}
}

// openStore picks the backend named by STORE_DRIVER.
func openStore(ctx context.Context, cfg Config, migrate bool) (Store, func(), error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "postgres", "":
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("missing required env var: DATABASE_URL")
		}
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if migrate || cfg.AutoMigrate {
			if err := store.Migrate(ctx, db); err != nil {
				db.Close(ctx)
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return db, func() { db.Close(context.Background()) }, nil
	case "sqlite":
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	case "memory":
		log.Println("using in-memory store; nothing will be persisted")
		return store.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

// runReplay re-derives every rating from a GameLog export, or from the
// store's own history, and rewrites the store with the result.
func runReplay(ctx context.Context, st Store, cfg recorder.Config, csvPath string) error {
	rb, ok := st.(recorder.Rebuilder)
	if !ok {
		return fmt.Errorf("store does not support rebuilds")
	}

	var games []recorder.GameRecord
	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if games, err = gamelog.Read(f); err != nil {
			return fmt.Errorf("read %s: %w", csvPath, err)
		}
	} else {
		entries, err := st.Entries(ctx)
		if err != nil {
			return err
		}
		games = recorder.GroupEntries(entries)
	}

	res, err := recorder.Replay(games, cfg.Eras, cfg.ExcludePolicy)
	if err != nil {
		return err
	}
	if err := rb.Rebuild(ctx, res.Ratings, res.Games); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	log.Printf("replayed %d games (%d vetoed, kept unrated), %d players rated",
		len(res.Games), len(res.Skipped), len(res.Ratings))
	return nil
}
