package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
)

func runVerify(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	id := fs.String("id", "", "verify only this aggregate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := a.env(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	if *id != "" {
		if err := env.Store().VerifyChain(ctx, *id); err != nil {
			return err
		}
		a.log.Info("chain valid", slog.String("id", *id))
		fmt.Printf("%s: ok\n", *id)
		return nil
	}

	n, err := env.Store().VerifyAll(ctx)
	if err != nil {
		return fmt.Errorf("after %d valid records: %w", n, err)
	}
	fmt.Printf("%d records: ok\n", n)
	return nil
}
