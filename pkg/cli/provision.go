package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/catalog"
)

func newProvisionCommand() *Command {
	cmd := &Command{
		Name:        "provision",
		Description: "Converge the application, schema and entitlement catalog without touching users",
		Flags:       flag.NewFlagSet("provision", flag.ExitOnError),
		Run:         runProvision,
	}

	cmd.Flags.String("file", "", "CSV file to provision from (overrides configured source)")

	return cmd
}

func runProvision(args []string) error {
	flags := flag.NewFlagSet("provision", flag.ExitOnError)
	file := flags.String("file", "", "CSV file to provision from (overrides configured source)")

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

	columns := rt.provisioner.Validate(table).Columns
	app, err := rt.provisioner.EnsureApplication(ctx)
	if err != nil {
		return err
	}
	if err := rt.provisioner.EnsureSchema(ctx, app.ID, columns); err != nil {
		return err
	}
	if err := rt.provisioner.EnsureMapping(ctx, app.ID, columns); err != nil {
		return err
	}
	resourceID, err := rt.provisioner.EnsureGovernance(ctx, app)
	if err != nil {
		return err
	}

	cat := catalog.Build(table.Rows, rt.cfg.Engine.EntitlementPrefix)
	index, err := rt.provisioner.EnsureEntitlements(ctx, resourceID, app.ID, cat)
	if err != nil {
		return err
	}

	fmt.Printf("Application %s (%s) provisioned\n", app.Label, app.ID)
	fmt.Printf("Governance resource: %s\n", resourceID)
	fmt.Printf("Entitlements: %d remote (%d in catalog, %d values)\n", len(index), len(cat), cat.TotalValues())
	return nil
}
