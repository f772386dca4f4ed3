package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/roles"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/schema"
)

func newMineCommand() *Command {
	cmd := &Command{
		Name:        "mine",
		Description: "Mine role candidates from a CSV file (offline)",
		Flags:       flag.NewFlagSet("mine", flag.ExitOnError),
		Run:         runMine,
	}

	cmd.Flags.String("file", "", "CSV file to mine")
	cmd.Flags.String("prefix", schema.DefaultEntitlementPrefix, "Entitlement column prefix")
	cmd.Flags.Int("threshold", 2, "Minimum members for a role candidate")
	cmd.Flags.String("identity-columns", "", "Comma-separated identity column override")
	cmd.Flags.String("output", "table", "Output format: table or json")

	return cmd
}

func runMine(args []string) error {
	flags := flag.NewFlagSet("mine", flag.ExitOnError)
	file := flags.String("file", "", "CSV file to mine")
	prefix := flags.String("prefix", schema.DefaultEntitlementPrefix, "Entitlement column prefix")
	threshold := flags.Int("threshold", 2, "Minimum members for a role candidate")
	identityColumns := flags.String("identity-columns", "", "Comma-separated identity column override")
	output := flags.String("output", "table", "Output format: table or json")

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

	opts := []roles.MinerOption{
		roles.WithEntitlementPrefix(*prefix),
		roles.WithMinMembers(*threshold),
	}
	if *identityColumns != "" {
		opts = append(opts, roles.WithIdentityCandidates(strings.Split(*identityColumns, ",")))
	}
	candidates, stats := roles.NewMiner(opts...).Mine(table.Rows)

	if *output == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			Candidates []roles.Candidate `json:"candidates"`
			Stats      roles.Stats       `json:"stats"`
		}{candidates, stats})
	}

	fmt.Printf("%d rows, %d with entitlements, %d unique signatures\n",
		stats.TotalRows, stats.RowsWithEntitlements, stats.UniqueSignatures)
	fmt.Printf("%d candidates covering %.1f%% of rows\n\n", stats.CandidateCount, stats.Coverage)
	for _, candidate := range candidates {
		fmt.Printf("%-40s members=%-4d coverage=%5.1f%%\n", candidate.Name, candidate.MemberCount, candidate.Coverage)
		fmt.Printf("    %s\n", candidate.Description)
	}
	return nil
}
