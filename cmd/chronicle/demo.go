package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codewandler/chronicle-go/core/es"
)

// runDemo walks one aggregate through its whole life and checks what the
// store promises along the way.
func runDemo(ctx context.Context, a *app, _ []string) error {
	env, err := a.env(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	worlds := es.NewRepo(env, worldSchema())
	reader := env.Notifications().Reader()
	maxID, err := env.Notifications().MaxID(ctx)
	if err != nil {
		return err
	}
	reader.Seek(maxID + 1)

	world, err := worlds.Create()
	if err != nil {
		return err
	}
	if err := world.Save(ctx); err != nil {
		return err
	}

	for _, batch := range [][]string{{"dinosaurs", "trucks"}, {"internet"}} {
		for _, what := range batch {
			if err := makeItSo(world, what); err != nil {
				return err
			}
		}
		if err := world.Save(ctx); err != nil {
			return err
		}
	}

	copied, err := worlds.Get(ctx, world.ID(), es.WithVerifyHashes())
	if err != nil {
		return err
	}
	if copied.Head() != world.Head() {
		return fmt.Errorf("head mismatch: %s != %s", copied.Head(), world.Head())
	}
	a.log.Info("replayed", slog.String("id", world.ID()), slog.String("history", strings.Join(copied.State().History, ",")))

	raw, err := env.Store().RawRecords(ctx, world.ID())
	if err != nil {
		return err
	}
	for _, r := range raw {
		for _, what := range copied.State().History {
			if strings.Contains(string(r.State), what) {
				return fmt.Errorf("record %d stores %q in plaintext", r.OriginatorVersion, what)
			}
		}
	}

	if err := world.Discard(); err != nil {
		return err
	}
	if err := world.Save(ctx); err != nil {
		return err
	}
	if ok, err := worlds.Exists(ctx, world.ID()); err != nil || ok {
		return fmt.Errorf("discarded world still exists (err=%v)", err)
	}
	if _, err := worlds.Get(ctx, world.ID()); !errors.Is(err, es.ErrAggregateDiscarded) {
		return fmt.Errorf("get discarded world: %v", err)
	}
	if err := env.Store().VerifyChain(ctx, world.ID()); err != nil {
		return err
	}

	for range 2 {
		w, err := worlds.Create()
		if err != nil {
			return err
		}
		if err := w.Save(ctx); err != nil {
			return err
		}
	}

	notifs, err := reader.Read(ctx)
	if err != nil {
		return err
	}
	for _, n := range notifs {
		fmt.Printf("%d\t%s\t%d\t%s\n", n.ID, n.OriginatorID, n.OriginatorVersion, n.EventType)
	}
	return nil
}
