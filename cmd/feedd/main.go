// Feedd is the livefeed backend daemon.
//
// It loads configuration, serves the dashboard REST endpoints and the /ws
// push stream, and in demo mode drives a simulated drought-relief world that
// emits a steady stream of events. Shutdown is handled gracefully on SIGINT
// or SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/livefeed/internal/app"
	"github.com/large-farva/livefeed/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config TOML (defaults are used when empty)")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides [server].bind)")
		seed       = pflag.Uint64("seed", 0, "Demo world seed (0 picks one from the clock)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := log.New(os.Stdout, "feedd ", log.LstdFlags|log.Lmicroseconds)

	a := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
		Seed:       *seed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("feedd failed: %v", err)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
