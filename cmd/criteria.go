package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stagegate/sgpm/internal/output"
)

var criteriaGuidelines bool

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Show the evaluation criteria catalog",
	Long: `Show the weighted criteria used for gate evaluations.

The catalog comes from criteria_file when configured, otherwise the
built-in catalog is used. Weights always sum to 100.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return criteriaListRun()
	},
}

func init() {
	criteriaCmd.Flags().BoolVar(&criteriaGuidelines, "guidelines", false, "Show scoring guidelines per criterion")
	rootCmd.AddCommand(criteriaCmd)
}

func criteriaListRun() error {
	catalog, err := getCatalog()
	if err != nil {
		return err
	}

	table := ui.Table([]string{"ID", "Name", "Weight"})
	for _, c := range catalog.List() {
		table.Append([]string{c.ID, output.Cyan(c.Name), strconv.Itoa(c.Weight) + "%"})
	}
	table.Render()

	if criteriaGuidelines {
		for _, c := range catalog.List() {
			fmt.Fprintln(ui.Out)
			fmt.Fprintf(ui.Out, "%s (%d%%)\n", output.Cyan(c.Name), c.Weight)
			for score := 1; score <= 5; score++ {
				if g, ok := c.Guidelines[score]; ok {
					fmt.Fprintf(ui.Out, "  %d: %s\n", score, g)
				}
			}
		}
	}
	return nil
}
