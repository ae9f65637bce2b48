package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crm-backend/internal/inference"
	"crm-backend/internal/models"
	"crm-backend/internal/rules"
	"crm-backend/internal/validation"
)

var inferCmd = &cobra.Command{
	Use:   "infer <prompt>",
	Short: "Infer audience rules from a natural-language prompt",
	Example: `  crm infer "customers who spent over 500 and visited more than 3 times"
  AI_ENABLED=true OPENAI_API_KEY=sk-... crm infer "inactive for 90 days"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInfer,
}

func init() {
	rootCmd.AddCommand(inferCmd)
	inferCmd.Flags().Bool("local", false, "skip any configured provider and use local heuristics only")
}

func runInfer(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	if err := validation.ValidatePrompt(prompt); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var result inference.Result
	if local, _ := cmd.Flags().GetBool("local"); local {
		result = inference.Result{Rules: inference.InferLocal(prompt), Outcome: inference.OutcomeHeuristic}
	} else {
		result = inference.New(cfg.Inference()).Infer(context.Background(), prompt)
	}
	if result.Err != nil {
		logger.Warn("provider failed, using local rules", zap.Error(result.Err))
	}

	out := models.InferRulesResponse{
		Rules:       result.Rules,
		Explanation: rules.Explain(result.Rules),
		Outcome:     string(result.Outcome),
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
