package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/infrastructure/config"
	"github.com/alchemorsel/mealguard/internal/infrastructure/container"
	"github.com/alchemorsel/mealguard/internal/ports/inbound"
	"github.com/alchemorsel/mealguard/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const (
	startTimeout = 60 * time.Second
	stopTimeout  = 30 * time.Second
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "mealguard",
		Short:         "Health-constrained recipe recommendations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("MEALGUARD_CONFIG"), "Path to the YAML config file")

	root.AddCommand(
		newRecommendCmd(opts),
		newOpsCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

type recommendOptions struct {
	userID       string
	query        string
	ingredients  []string
	conditions   []string
	restrictions []string
	allergies    []string
	save         int
}

func newRecommendCmd(root *rootOptions) *cobra.Command {
	opts := &recommendOptions{}

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Run one recommendation request and print the result as JSON",
		Example: `  mealguard recommend --user u-42 --query "a quick vegetarian dinner" --condition hypertension
  mealguard recommend --user u-42 --query "something with these" --ingredients tomato,basil --save 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecommend(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "User ID whose ledger and profile apply")
	cmd.Flags().StringVar(&opts.query, "query", "", "Free-text request")
	cmd.Flags().StringSliceVar(&opts.ingredients, "ingredients", nil, "Detected ingredients to cook with")
	cmd.Flags().StringSliceVar(&opts.conditions, "condition", nil, "Known health conditions")
	cmd.Flags().StringSliceVar(&opts.restrictions, "restriction", nil, "Known dietary restrictions")
	cmd.Flags().StringSliceVar(&opts.allergies, "allergy", nil, "Known allergies")
	cmd.Flags().IntVar(&opts.save, "save", 0, "Log the n-th recommended recipe (1-based) to the nutrition ledger")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

// recommendOutput is what the recommend command prints
type recommendOutput struct {
	Result *recommendation.RecommendationResult `json:"result,omitempty"`
	Saved  *recommendation.CandidateRecipe      `json:"saved,omitempty"`
	Error  *errors.ErrorDetails                 `json:"error,omitempty"`
}

func runRecommend(ctx context.Context, root *rootOptions, opts *recommendOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var service inbound.RecommendationService
	app := container.New(container.ConfigPath(root.configPath), fx.Populate(&service))
	if err := startApp(ctx, app); err != nil {
		return err
	}
	defer stopApp(app)

	session := recommendation.NewSession(opts.userID, recommendation.Profile{
		HealthConditions:    opts.conditions,
		DietaryRestrictions: opts.restrictions,
		Allergies:           opts.allergies,
	})

	var (
		output recommendOutput
		err    error
	)
	if len(opts.ingredients) > 0 {
		output.Result, err = service.GetRecommendationsWithIngredients(ctx, session, opts.query, opts.ingredients)
	} else {
		output.Result, err = service.GetRecommendations(ctx, session, opts.query)
	}
	if err != nil {
		output.Error = failureDetails(err)
		return printJSON(out, output, err)
	}

	if opts.save > 0 {
		output.Saved, err = service.SaveCandidate(ctx, session, opts.save)
		if err != nil {
			return printJSON(out, output, fmt.Errorf("save candidate %d: %w", opts.save, err))
		}
	}
	return printJSON(out, output, nil)
}

func failureDetails(err error) *errors.ErrorDetails {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.NewInternalError(errors.FailureMessage)
	}
	requestID, _ := appErr.Metadata["request_id"].(string)
	details := errors.ToErrorResponse(appErr, requestID).Error
	return &details
}

func printJSON(out io.Writer, v any, err error) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(v); encErr != nil {
		return encErr
	}
	return err
}

func newOpsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "Serve /metrics and /healthz until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app := container.New(container.ConfigPath(root.configPath), container.OpsModule)
			if err := startApp(ctx, app); err != nil {
				return err
			}

			<-ctx.Done()
			return stopApp(app)
		},
	}
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and dependency graph without connecting to anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(root.configPath); err != nil {
				return err
			}
			if err := container.Validate(container.ConfigPath(root.configPath), container.OpsModule); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	}
}

func startApp(ctx context.Context, app *fx.App) error {
	if err := app.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	return app.Start(startCtx)
}

func stopApp(app *fx.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return app.Stop(ctx)
}
