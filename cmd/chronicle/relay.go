package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/chronicle-go/adapters/nats"
	"github.com/codewandler/chronicle-go/core/es"
)

func runRelay(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	once := fs.Bool("once", false, "publish what is committed now and exit")
	interval := fs.Duration("interval", time.Second, "poll interval")
	maxAge := fs.Duration("max-age", 7*24*time.Hour, "stream retention")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := a.env(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	connect := nats.ConnectDefault()
	if a.cfg.NATSURL != "" {
		connect = nats.ConnectURL(a.cfg.NATSURL)
	}
	connect = nats.ReuseConnection(connect)

	relay, err := nats.NewRelay(ctx, nats.RelayConfig{
		Connect:       connect,
		Log:           a.log,
		SubjectPrefix: a.cfg.NATSSubjectPrefix,
		StreamName:    a.cfg.NATSStream,
		MaxAge:        *maxAge,
	})
	if err != nil {
		return err
	}
	defer func() { _ = relay.Close() }()

	cp, cpStore, err := nats.NewCheckpoint(ctx, nats.CheckpointConfig{
		Connect: connect,
		Key:     relay.StreamName(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = cpStore.Close() }()

	c := relay.Consumer(env, cp, es.WithPollInterval(*interval))
	if *once {
		n, err := c.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("relayed %d notifications\n", n)
		return nil
	}

	if err := c.Start(ctx); err != nil {
		return err
	}
	a.log.Info("relaying", slog.String("stream", relay.StreamName()))
	<-ctx.Done()
	c.Stop()
	return nil
}
