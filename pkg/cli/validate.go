package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/catalog"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/schema"
)

func newValidateCommand() *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Inspect a CSV file and report what a pass would do (offline)",
		Flags:       flag.NewFlagSet("validate", flag.ExitOnError),
		Run:         runValidate,
	}

	cmd.Flags.String("file", "", "CSV file to validate")
	cmd.Flags.String("prefix", schema.DefaultEntitlementPrefix, "Entitlement column prefix")
	cmd.Flags.String("dictionary", "", "Path to a YAML canonical-attribute dictionary override")

	return cmd
}

func runValidate(args []string) error {
	flags := flag.NewFlagSet("validate", flag.ExitOnError)
	file := flags.String("file", "", "CSV file to validate")
	prefix := flags.String("prefix", schema.DefaultEntitlementPrefix, "Entitlement column prefix")
	dictionaryPath := flags.String("dictionary", "", "Path to a YAML canonical-attribute dictionary override")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	table, err := readLocalTable(context.Background(), *file, "", "", 0)
	if err != nil {
		return err
	}

	deriverOpts := []schema.Option{schema.WithPrefix(*prefix)}
	if *dictionaryPath != "" {
		dictionary, err := schema.LoadDictionary(*dictionaryPath)
		if err != nil {
			return err
		}
		deriverOpts = append(deriverOpts, schema.WithDictionary(dictionary))
	}
	deriver := schema.NewDeriver(deriverOpts...)

	fmt.Printf("%d rows, %d columns\n\n", len(table.Rows), len(table.Header))
	for _, column := range deriver.Derive(table.Header) {
		switch {
		case column.Kind == schema.KindEntitlement:
			fmt.Printf("  %-30s entitlement %q\n", column.Name, column.EntitlementName)
		case column.Canonical != "":
			fmt.Printf("  %-30s profile -> %s\n", column.Name, column.Canonical)
		default:
			fmt.Printf("  %-30s profile (custom attribute)\n", column.Name)
		}
	}

	cat := catalog.Build(table.Rows, *prefix)
	if len(cat) > 0 {
		fmt.Printf("\nEntitlement catalog (%d values total):\n", cat.TotalValues())
		for _, name := range cat.Names() {
			fmt.Printf("  %-30s %d values\n", name, len(cat[name]))
		}
	}

	withoutKey := 0
	seen := make(map[string]int, len(table.Rows))
	for _, row := range table.Rows {
		key, ok := schema.IdentityKey(row, nil)
		if !ok {
			withoutKey++
			continue
		}
		seen[key]++
	}
	duplicates := 0
	for _, count := range seen {
		if count > 1 {
			duplicates++
		}
	}

	fmt.Printf("\n%d unique identities, %d duplicated, %d rows without an identity key\n",
		len(seen), duplicates, withoutKey)
	if withoutKey > 0 {
		return fmt.Errorf("%d rows would be skipped", withoutKey)
	}
	return nil
}
