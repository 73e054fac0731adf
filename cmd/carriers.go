package main

import (
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sells-group/carrier-scraper/internal/carrier"
)

var carriersCmd = &cobra.Command{
	Use:   "carriers",
	Short: "List configured carrier portals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := carrier.Load(cfg.CarriersFile)
		if err != nil {
			return err
		}
		formatCarriers(cmd.OutOrStdout(), registry.List())
		return nil
	},
}

func formatCarriers(out io.Writer, carriers []carrier.Carrier) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Carrier", "Login", "Portal", "Profile", "Max Pages", "Categories"})
	for _, c := range carriers {
		maxPages := "unbounded"
		if c.Config.MaxPages > 0 {
			maxPages = strconv.Itoa(c.Config.MaxPages)
		}
		t.AppendRow(table.Row{
			c.Name,
			string(c.Config.Mode()),
			c.Config.PortalURL,
			c.Config.ProfileID,
			maxPages,
			len(c.Categories),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func init() {
	rootCmd.AddCommand(carriersCmd)
}
