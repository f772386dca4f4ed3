package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func newSyncCommand() *Command {
	cmd := &Command{
		Name:        "sync",
		Description: "Run one full reconciliation pass",
		Flags:       flag.NewFlagSet("sync", flag.ExitOnError),
		Run:         runSync,
	}

	cmd.Flags.String("file", "", "CSV file to sync (overrides configured source)")

	return cmd
}

func runSync(args []string) error {
	flags := flag.NewFlagSet("sync", flag.ExitOnError)
	file := flags.String("file", "", "CSV file to sync (overrides configured source)")

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

	table, err := rt.readTable(ctx, *file)
	if err != nil {
		return err
	}

	rt.client.PurgeCache(ctx)
	result, err := rt.provisioner.Run(ctx, table)
	if err != nil {
		return err
	}

	summary := result.Summary
	fmt.Printf("Pass %s complete in %s\n", summary.PassID, summary.Duration.Round(0))
	fmt.Printf("  added: %d  updated: %d  removed: %d  unchanged: %d\n",
		summary.Added, summary.Updated, summary.Removed, summary.Unchanged)
	fmt.Printf("  skipped rows: %d  retries: %d  failures: %d\n",
		summary.Skipped, summary.Retries, summary.Failed)
	if len(result.SkippedValues) > 0 {
		fmt.Printf("  unresolvable entitlement values: %d\n", len(result.SkippedValues))
	}
	fmt.Printf("  role candidates: %d (coverage %.1f%%)\n",
		result.MiningStats.CandidateCount, result.MiningStats.Coverage)
	for _, bundle := range result.Bundles {
		fmt.Printf("  bundle created: %s (%s)\n", bundle.Name, bundle.ID)
	}

	for _, failure := range summary.Failures {
		fmt.Fprintf(os.Stderr, "  FAILED %s %s: %v\n", failure.Op, failure.Key, failure.Err)
	}
	if !summary.Succeeded() {
		return fmt.Errorf("%d items failed", summary.Failed)
	}
	return nil
}
