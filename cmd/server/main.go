package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Staticpast/ModeManager/internal/metrics"
	"github.com/Staticpast/ModeManager/internal/persistence/indexdb"
	persistlog "github.com/Staticpast/ModeManager/internal/persistence/log"
	"github.com/Staticpast/ModeManager/internal/protocol"
	"github.com/Staticpast/ModeManager/internal/sim/engine"
	"github.com/Staticpast/ModeManager/internal/sim/ownership"
	"github.com/Staticpast/ModeManager/internal/sim/store"
	"github.com/Staticpast/ModeManager/internal/sim/tuning"
	"github.com/Staticpast/ModeManager/internal/transport/ws"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configPath  = flag.String("config", "./configs/config.yaml", "path to config.yaml")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite index of transitions and denials")
		watchConfig = flag.Bool("watch_config", true, "reload config.yaml when it changes")
		token       = flag.String("token", "", "shared secret hosts must send in HELLO (or set MM_BRIDGE_TOKEN)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	started := time.Now()

	cfg, err := tuning.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
		cfg = tuning.Defaults()
	}
	for _, w := range cfg.Warnings {
		logger.Printf("config: %s", w)
	}
	var current atomic.Pointer[tuning.Config]
	current.Store(&cfg)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	st, err := store.Open(filepath.Join(*dataDir, "playerdata"), cfg.DefaultMode, logger, time.Now)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	index := ownership.New(*dataDir, logger)
	if err := index.Load(); err != nil {
		logger.Printf("load ownership index: %v; continuing with what was read", err)
	}
	blocks, objects := index.Counts()
	logger.Printf("ownership index loaded blocks=%d frames=%d", blocks, objects)

	audit := persistlog.NewAuditLogger(*dataDir, time.Now)
	defer audit.Close()

	// Optional read-model; the engine never reads it back.
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	}

	var eng *engine.Engine
	src := metrics.Sources{
		Online:      func() int { return eng.Online() },
		LoadedUsers: func() int { return st.Stats().Loaded },
		Tracked:     index.Counts,
	}
	if idx != nil {
		src.IndexQueue = func() int { return idx.Stats().QueueDepth }
	}
	m := metrics.New(src, started)

	observers := []engine.Observer{audit, m}
	if idx != nil {
		observers = append(observers, idx)
	}
	eng = engine.New(engine.Options{
		Config:    cfg,
		Store:     st,
		Index:     index,
		Logger:    logger,
		Observers: observers,
	})

	ctx, cancel := signalContext()
	defer cancel()

	if *watchConfig {
		err := tuning.Watch(ctx, *configPath, logger, func(next tuning.Config) {
			for _, w := range next.Warnings {
				logger.Printf("config: %s", w)
			}
			current.Store(&next)
			eng.Reload(next)
			logger.Printf("config reloaded from %s", *configPath)
		})
		if err != nil {
			logger.Printf("config watch disabled: %v", err)
		}
	}

	bridgeToken := strings.TrimSpace(*token)
	if bridgeToken == "" {
		bridgeToken = strings.TrimSpace(os.Getenv("MM_BRIDGE_TOKEN"))
	}
	bridge := ws.NewServer(eng, logger, ws.Options{
		Token: bridgeToken,
		Welcome: func() protocol.WelcomeMsg {
			c := current.Load()
			return protocol.WelcomeMsg{
				TickRateHz:      c.Engine.TickRateHz,
				CooldownSeconds: c.ModeSwitching.CooldownSeconds,
				DefaultMode:     string(c.DefaultMode),
			}
		},
		OnConnect: func(serverName string) {
			m.HostConnected()
			logger.Printf("host %q attached", serverName)
		},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		select {
		case <-eng.Done():
			http.Error(rw, "engine stopped", http.StatusServiceUnavailable)
		default:
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		}
	})
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/v1/ws", bridge.Handler())

	if envBool("MM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		newAdminAPI(eng, logger).register(mux)
	} else {
		logger.Printf("admin endpoints disabled (MM_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("MM_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		eng.Stop()
		return nil
	})
	// Run saves every loaded user and the ownership index before returning;
	// the deferred closes run after that.
	if err := g.Wait(); err != nil {
		logger.Printf("server: %v", err)
	}
	if idx != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.Sync(sctx); err != nil {
			logger.Printf("index db sync: %v", err)
		}
		scancel()
	}
	if n := audit.Errors(); n > 0 {
		logger.Printf("audit log: %d write errors", n)
	}
	logger.Printf("stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
