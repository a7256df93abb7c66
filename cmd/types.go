package cmd

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/datatype"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the data types known to aggregate and peaks",
	Args:  cobra.NoArgs,
	RunE:  runTypes,
}

func runTypes(cmd *cobra.Command, args []string) error {
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	table := tablewriter.NewTable(os.Stdout, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignLeft}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))
	table.Header("TYPE", "EXTRACTOR", "PREFIX", "POLICY", "COLUMN")
	for _, name := range reg.Names() {
		dt, _ := reg.Lookup(name)
		col := dt.Column
		if dt.Policy == datatype.PolicyOffset {
			col = dt.Net.String()
		}
		table.Append(dt.Name, dt.Extractor, dt.Prefix, dt.Policy.String(), col)
	}
	table.Render()
	return nil
}
