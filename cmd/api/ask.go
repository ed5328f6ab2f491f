package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/personas-nlq/backend/internal/app"
)

var (
	askJSON    bool
	askTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <pregunta>",
	Short: "Answer one question and exit",
	Example: `  personas-nlq ask "¿Cuántas personas están registradas en total?"
  personas-nlq ask --json "¿Cuántas mujeres mayores de 30 años hay?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full response with metadata as JSON")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "Overall timeout")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close(context.Background())

	resp, err := a.Engine.Answer(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintln(out, resp.Answer)
	fmt.Fprintf(out, "\n[%s, %.1fms, %d/%d registros]\n",
		resp.Metadata.QueryType, resp.Metadata.ProcessingTimeMS,
		resp.Metadata.FilteredSize, resp.Metadata.DatasetSize)
	return nil
}
