package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
)

func runNotifications(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("notifications", flag.ContinueOnError)
	from := fs.Uint64("from", 1, "first notification id")
	limit := fs.Int("limit", 20, "maximum number of notifications")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := a.env(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	items, err := env.Notifications().Read(ctx, *from, *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORIGINATOR\tVERSION\tTYPE\tSTATE")
	for _, n := range items {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d bytes\n", n.ID, n.OriginatorID, n.OriginatorVersion, n.EventType, len(n.State))
	}
	return w.Flush()
}
