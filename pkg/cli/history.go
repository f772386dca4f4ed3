package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func newHistoryCommand() *Command {
	cmd := &Command{
		Name:        "history",
		Description: "Show recent pass history for the configured application",
		Flags:       flag.NewFlagSet("history", flag.ExitOnError),
		Run:         runHistory,
	}

	cmd.Flags.Int("limit", 20, "Maximum passes to show")

	return cmd
}

func runHistory(args []string) error {
	flags := flag.NewFlagSet("history", flag.ExitOnError)
	limit := flags.Int("limit", 20, "Maximum passes to show")

	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	app, err := rt.client.FindApplicationByName(ctx, rt.cfg.Engine.ApplicationName)
	if err != nil {
		return err
	}
	if app == nil {
		return fmt.Errorf("application %q not found", rt.cfg.Engine.ApplicationName)
	}

	records, err := rt.store.ListPasses(ctx, app.ID, *limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no recorded passes")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-8s  %s\n", "PASS", "STARTED", "RESULT", "ADD/UPD/REM/UNCH")
	for _, record := range records {
		result := "ok"
		if !record.Succeeded {
			result = fmt.Sprintf("%d fail", record.Failed)
		}
		fmt.Printf("%-36s  %-20s  %-8s  %d/%d/%d/%d\n",
			record.PassID,
			record.StartedAt.Local().Format(time.DateTime),
			result,
			record.Added, record.Updated, record.Removed, record.Unchanged)
	}
	return nil
}
