package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/personas-nlq/backend/internal/app"
)

var (
	batteryFile  string
	evaluateJSON bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run the evaluation battery through the full pipeline",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&batteryFile, "battery", "", "YAML battery file (default: evaluation.batteryFile or the built-in battery)")
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "Print the report as JSON")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if batteryFile != "" {
		cfg.Evaluation.BatteryFile = batteryFile
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close(context.Background())

	battery, err := a.Battery()
	if err != nil {
		return err
	}

	report, err := a.Evaluator.Run(ctx, battery)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if evaluateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprint(out, a.Evaluator.GenerateReport(report))

	if report.Successful < report.TotalQueries {
		return fmt.Errorf("%d of %d evaluation queries failed", report.Failed, report.TotalQueries)
	}
	return nil
}
