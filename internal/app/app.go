// Package app wires together the HTTP server, the WebSocket hub, and the demo
// runner behind feedd. It owns the daemon's lifecycle.
package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/large-farva/livefeed/internal/config"
	"github.com/large-farva/livefeed/internal/demo"
	"github.com/large-farva/livefeed/internal/hub"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *log.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string
	Seed       uint64 // demo world seed; zero picks one from the clock
}

// App is the top-level daemon process.
type App struct {
	log        *log.Logger
	cfg        config.Config
	configPath string
	bind       string

	startedAt time.Time
	world     *demo.World
	hub       *hub.Hub
}

// New creates an App. Call Run to start serving.
func New(opts Options) *App {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &App{
		log:        logger,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		world:      demo.NewWorld(opts.Cfg.Demo.Villages, seed),
		hub:        hub.New(logger),
	}
}

// Handler returns the full route table.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/version", a.handleVersion)
	mux.HandleFunc("GET /api/config", a.handleConfig)
	mux.HandleFunc("GET /api/dashboard/overview", a.handleOverview)
	mux.HandleFunc("GET /api/allocation/priorities", a.handlePriorities)
	mux.HandleFunc("POST /api/allocation/auto-allocate", a.handleAutoAllocate)
	mux.HandleFunc("GET /api/tankers", a.handleTankers)
	mux.HandleFunc("GET /api/requests", a.handleRequests)
	mux.HandleFunc("GET /api/grievances", a.handleGrievances)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/ws", a.hub.Handler())
	return mux
}

// Run starts the HTTP server, the hub, and the demo runner. It blocks until
// the context is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = a.cfg.Server.Bind
	}

	server := &http.Server{
		Addr:              bind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	a.log.Printf("listening on http://%s", ln.Addr())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})

	if a.cfg.Demo.Enabled {
		r := demo.New(a.world, a.hub)
		r.Logger = a.log
		r.Verbose = a.cfg.Debug()
		if a.cfg.Demo.IntervalSeconds > 0 {
			r.Interval = time.Duration(a.cfg.Demo.IntervalSeconds) * time.Second
		}
		g.Go(func() error {
			r.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.log.Printf("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}
