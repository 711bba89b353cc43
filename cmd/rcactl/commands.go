package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rca-orchestrator/backend/internal/client"
	"rca-orchestrator/backend/internal/services"
	"rca-orchestrator/backend/pkg/models"
)

type app struct {
	out     io.Writer
	server  string
	token   string
	timeout time.Duration
}

func (a *app) client() *client.Client {
	return client.New(a.server, a.token, a.timeout)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "rcactl",
		Short:         "Client for the RCA workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.server, "server", envOr("RCA_SERVER", "http://localhost:8080"), "service base URL ($RCA_SERVER)")
	root.PersistentFlags().StringVar(&a.token, "token", os.Getenv("RCA_TOKEN"), "bearer access token ($RCA_TOKEN)")
	root.PersistentFlags().DurationVar(&a.timeout, "request-timeout", 30*time.Second, "per-request timeout")

	root.AddCommand(
		newAnalyzeCmd(a),
		newStatusCmd(a),
		newResultCmd(a),
		newWaitCmd(a),
		newFeedbackCmd(a),
		newLearningCmd(a),
		newHealthCmd(a),
	)
	return root
}

type waitOptions struct {
	interval time.Duration
	timeout  time.Duration
}

func (o *waitOptions) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&o.interval, "poll-interval", 2*time.Second, "status poll interval")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 5*time.Minute, "give up waiting after this long")
}

func (a *app) wait(cmd *cobra.Command, workflowID string, o waitOptions) error {
	ctx := cmd.Context()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var last models.WorkflowStatus
	state, err := a.client().Wait(ctx, workflowID, o.interval, func(v *services.StatusView) {
		if v.Status != last {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s  %s\n", time.Now().Format(time.TimeOnly), v.Status)
			last = v.Status
		}
	})
	if err != nil {
		return err
	}
	return a.print(state)
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		file     string
		in       models.AnomalyInput
		errValue float64
		features []string
		follow   bool
		wo       waitOptions
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Submit an anomaly for root cause analysis",
		Example: `  rcactl analyze --reconstruction-error 0.39 --feature "Rotational speed [rpm]=0.19" --severity high
  rcactl analyze --file anomaly.json --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if err := readAnomaly(file, cmd.InOrStdin(), &in); err != nil {
					return err
				}
			} else {
				if cmd.Flags().Changed("reconstruction-error") {
					in.ReconstructionError = &errValue
				}
				parsed, err := parseFeatures(features)
				if err != nil {
					return err
				}
				in.TopContributingFeatures = parsed
			}

			res, err := a.client().Analyze(cmd.Context(), in)
			if err != nil {
				return err
			}
			if !follow {
				return a.print(res)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "workflow %s queued (estimated %s)\n", res.WorkflowID, res.EstimatedTime)
			return a.wait(cmd, res.WorkflowID, wo)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the anomaly as JSON from a file, or - for stdin")
	cmd.Flags().StringVar(&in.AnomalyID, "anomaly-id", "", "anomaly identifier (generated by the service when empty)")
	cmd.Flags().Float64Var(&errValue, "reconstruction-error", 0, "detector reconstruction error")
	cmd.Flags().StringArrayVar(&features, "feature", nil, "contributing feature as name=error, repeatable")
	cmd.Flags().StringVar(&in.Severity, "severity", "", "low, medium, high or critical")
	cmd.Flags().BoolVar(&follow, "wait", false, "wait for the workflow to finish and print its result")
	wo.register(cmd)
	return cmd
}

func readAnomaly(file string, stdin io.Reader, in *models.AnomalyInput) error {
	var r io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(in); err != nil {
		return fmt.Errorf("failed to parse anomaly %s: %w", file, err)
	}
	return nil
}

// parseFeatures reads name=error pairs. Feature names may contain '=' so the last one splits.
func parseFeatures(raw []string) ([]models.FeatureContribution, error) {
	out := make([]models.FeatureContribution, 0, len(raw))
	for _, f := range raw {
		i := strings.LastIndex(f, "=")
		if i <= 0 {
			return nil, fmt.Errorf("feature %q must be name=error", f)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(f[i+1:]), 64)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", f, err)
		}
		out = append(out, models.FeatureContribution{FeatureName: strings.TrimSpace(f[:i]), Error: v})
	}
	return out, nil
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status WORKFLOW_ID",
		Short: "Show the status of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(view)
		},
	}
}

func newResultCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "result WORKFLOW_ID",
		Short: "Show the final analysis of a completed workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.client().Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(state)
		},
	}
}

func newWaitCmd(a *app) *cobra.Command {
	var wo waitOptions
	cmd := &cobra.Command{
		Use:   "wait WORKFLOW_ID",
		Short: "Poll a workflow until it finishes and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.wait(cmd, args[0], wo)
		},
	}
	wo.register(cmd)
	return cmd
}

func newFeedbackCmd(a *app) *cobra.Command {
	var req client.FeedbackRequest
	var verdict string

	cmd := &cobra.Command{
		Use:   "feedback WORKFLOW_ID",
		Short: "Review the result of a finished workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.WorkflowID = args[0]
			req.Verdict = models.Verdict(verdict)
			update, err := a.client().Feedback(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.print(update)
		},
	}
	cmd.Flags().StringVar(&verdict, "verdict", "", "correct, partially_correct or incorrect")
	cmd.Flags().StringVar(&req.Comments, "comments", "", "reviewer notes")
	cmd.Flags().StringVar(&req.ActualRootCause, "actual-root-cause", "", "root cause found on site")
	cmd.Flags().StringVar(&req.DiagnosticAccuracy, "diagnostic-accuracy", "", "accurate, partial or inaccurate")
	cmd.Flags().StringVar(&req.ReasoningAccuracy, "reasoning-accuracy", "", "accurate, partial or inaccurate")
	cmd.Flags().StringVar(&req.PlanningEffectiveness, "planning-effectiveness", "", "effective, partially_effective or ineffective")
	cmd.Flags().StringArrayVar(&req.CorrectiveActions, "action-taken", nil, "corrective action taken, repeatable")
	_ = cmd.MarkFlagRequired("verdict")
	return cmd
}

func newLearningCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "learning WORKFLOW_ID",
		Short: "Show the stored learning record of a reviewed workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.client().Learning(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(rec)
		},
	}
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service and dependency health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(report)
		},
	}
}
