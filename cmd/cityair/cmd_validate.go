package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbuslabs/cityair-etl-service/internal/config"
)

func newValidateCmd() *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a rules file parses and passes validation",
		RunE: func(_ *cobra.Command, _ []string) error {
			rules, err := config.LoadRules(rulesPath)
			if err != nil {
				return err
			}

			source := rulesPath
			if source == "" {
				source = "built-in defaults"
			}
			fmt.Printf("rules OK (%s)\n", source)
			fmt.Printf("  aqi bands:       %d\n", len(rules.AQIBands))
			fmt.Printf("  quality bands:   %d\n", len(rules.QualityBands))
			fmt.Printf("  freshness bands: %d\n", len(rules.FreshnessBands))
			fmt.Printf("  climate zones:   %d\n", len(rules.ClimateZones))
			fmt.Printf("  rolling window:  %d days\n", rules.RollingWindowDays)
			fmt.Printf("  trend thresholds: minor %.1f, significant %.1f\n",
				rules.Trend.Minor, rules.Trend.Significant)
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", os.Getenv("RULES_PATH"), "path to a YAML rules file (empty checks the built-in defaults)")
	return cmd
}
