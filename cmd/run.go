// File: cmd/run.go
package cmd

import (
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/observability"
)

func newRunCmd() *cobra.Command {
	var skillLevel string

	runCmd := &cobra.Command{
		Use:   "run [objective]",
		Short: "Drive a single guided session from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			a, err := buildApp(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// Mirror step progress to the terminal as it happens.
			events := a.bus.Subscribe(
				schemas.EventStepCompleted,
				schemas.EventStepFailed,
				schemas.EventAdaptationApplied,
			)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for evt := range events {
					printEvent(cmd, evt)
					a.bus.Acknowledge(evt)
				}
			}()

			req := schemas.GuidanceRequest{
				ID:         uuid.New().String(),
				OwnerID:    "cli",
				RawInput:   strings.Join(args, " "),
				SkillLevel: skillLevel,
			}

			final, err := a.orch.ProcessRequest(ctx, req)
			if err != nil {
				return err
			}
			if final != nil {
				printSummary(cmd, final)
				logger.Info("Session finished",
					zap.String("session_id", final.ID),
					zap.String("status", string(final.Status)))
			}

			a.bus.Shutdown()
			<-done
			return nil
		},
	}

	runCmd.Flags().StringVar(&skillLevel, "skill-level", "", "user skill level (beginner|intermediate|advanced)")
	return runCmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func printEvent(cmd *cobra.Command, evt schemas.Event) {
	switch evt.Type {
	case schemas.EventStepCompleted:
		if r, ok := evt.Payload.(schemas.StepResult); ok {
			cmd.Printf("  ✓ step %s completed (score %.0f, +%d proficiency)\n",
				r.StepID, r.Score, r.Outcome.ProficiencyDelta)
		}
	case schemas.EventStepFailed:
		if r, ok := evt.Payload.(schemas.StepResult); ok {
			cmd.Printf("  ✗ step %s failed after %d attempt(s): %s\n",
				r.StepID, r.Attempts, r.Note)
		}
	case schemas.EventAdaptationApplied:
		cmd.Printf("  ~ plan adapted (%v)\n", evt.Payload)
	}
}

func printSummary(cmd *cobra.Command, sess *schemas.Session) {
	cmd.Printf("\nSession %s: %s\n", sess.ID, strings.ToUpper(string(sess.Status)))
	cmd.Printf("Objective: %s\n", sess.Objective)
	cmd.Printf("Steps completed: %d/%d (%.0f%%)\n",
		sess.Progress.CompletedSteps, sess.Progress.TotalSteps, sess.Progress.Percent)
	cmd.Printf("Proficiency gained: %d\n", sess.Analytics.ProficiencyTotal)
	if sess.FailureReason != "" {
		cmd.Printf("Failure reason: %s\n", sess.FailureReason)
	}
}
