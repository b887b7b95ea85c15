// Command chronicle operates an event store configured from the environment.
//
//	chronicle keygen
//	chronicle demo
//	chronicle verify [-id ID]
//	chronicle notifications [-from N] [-limit M]
//	chronicle relay [-once] [-interval D]
//
// See internal/config for the environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	promadapter "github.com/codewandler/chronicle-go/adapters/prometheus"
	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/internal/config"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{"keygen", "print a new random CIPHER_KEY", runKeygen},
	{"demo", "create, change and discard a world aggregate", runDemo},
	{"verify", "verify the hash chain of one or all aggregates", runVerify},
	{"notifications", "print a range of the notification log", runNotifications},
	{"relay", "publish the notification log to NATS JetStream", runRelay},
}

type app struct {
	cfg config.Config
	log *slog.Logger
}

// env opens the configured env, serving metrics when METRICS_ADDR is set.
func (a *app) env(ctx context.Context) (*es.Env, error) {
	var opts []es.EnvOption
	if a.cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, es.WithMetrics(promadapter.NewESMetrics(reg)))
		a.serveMetrics(ctx, reg)
	}
	env, err := config.Open(ctx, a.cfg, a.log, opts...)
	if err != nil {
		return nil, err
	}
	worldSchema().Register(env.Registry())
	return env, nil
}

func (a *app) serveMetrics(ctx context.Context, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
	go func() {
		a.log.Info("prometheus metrics server starting", slog.String("addr", a.cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("prometheus server error", slog.Any("error", err))
		}
	}()
	context.AfterFunc(ctx, func() { _ = srv.Shutdown(context.Background()) })
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: chronicle <command> [flags]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", c.name, c.usage)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.ParseEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	name, args := os.Args[1], os.Args[2:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(ctx, &app{cfg: cfg, log: log}, args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				os.Exit(2)
			}
			log.Error(name+" failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	usage()
	os.Exit(2)
}
