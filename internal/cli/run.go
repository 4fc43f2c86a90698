package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell/internal/engine"
	"github.com/inkwellhq/inkwell/internal/run"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage content-generation runs",
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new content-generation run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		flags := cmd.Flags()
		params := run.Params{}
		params.Topic, _ = flags.GetString("topic")
		params.ContentType, _ = flags.GetString("type")
		params.Audience, _ = flags.GetString("audience")
		params.Goal, _ = flags.GetString("goal")
		params.Tone, _ = flags.GetString("tone")
		params.Language, _ = flags.GetString("language")
		params.MaxWords, _ = flags.GetInt("max-words")
		params.ContextSummary, _ = flags.GetString("context")
		checkpointMode, _ := flags.GetBool("checkpoint")
		user, _ := flags.GetString("user")
		org, _ := flags.GetString("org")
		wait, _ := flags.GetBool("wait")

		r, err := a.engine.StartRun(params, engine.Identity{UserID: user, OrgID: org}, checkpointMode)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "started run %s\n", r.ID)

		// The engine executes stages on a background goroutine. Exiting
		// before it settles would strand the run as running forever, so
		// block until the run pauses or finishes.
		a.engine.Wait()

		if !wait {
			return nil
		}
		r, err = a.engine.Status(r.ID)
		if err != nil {
			return err
		}
		printRun(cmd, r)
		return nil
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show detailed run status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.engine.Status(args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := json.MarshalIndent(r, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printRun(cmd, r)
		return nil
	},
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		statusFilter, _ := cmd.Flags().GetString("status")
		runs, err := a.runs.List(statusFilter)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-38s %-22s %-18s %s\n", "RUN", "STATUS", "STAGE", "TOPIC")
		fmt.Fprintf(w, "%-38s %-22s %-18s %s\n",
			strings.Repeat("-", 38),
			strings.Repeat("-", 22),
			strings.Repeat("-", 18),
			strings.Repeat("-", 5))
		for _, r := range runs {
			fmt.Fprintf(w, "%-38s %-22s %-18d %s\n", r.ID, r.Status, r.CurrentStage, r.Params.Topic)
		}
		return nil
	},
}

var runCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.Cancel(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled run %s\n", args[0])
		return nil
	},
}

var runEventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Print the persisted event history for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.bc.History(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, ev := range events {
			fmt.Fprintf(w, "%4d  %-22s %s  %s\n", ev.Seq, ev.Kind, ev.Timestamp, string(ev.Payload))
		}
		return nil
	},
}

// printRun renders a run with its per-stage results.
func printRun(cmd *cobra.Command, r *run.Run) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run:     %s\n", r.ID)
	fmt.Fprintf(w, "Topic:   %s (%s)\n", r.Params.Topic, r.Params.ContentType)
	fmt.Fprintf(w, "Status:  %s (stage %d)\n", r.Status, r.CurrentStage)
	fmt.Fprintf(w, "Tokens:  %d ($%.4f)\n", r.TotalTokens, r.TotalCostUSD)
	if r.RefinementCount > 0 {
		fmt.Fprintf(w, "Refinements: %d\n", r.RefinementCount)
	}
	if len(r.Stages) > 0 {
		fmt.Fprintln(w, "Stages:")
		for _, sr := range r.Stages {
			line := fmt.Sprintf("  %d. %-18s %-10s %6dms", sr.Ordinal, sr.Name, sr.Status, sr.DurationMs)
			if sr.Error != "" {
				line += "  " + sr.Error
			}
			fmt.Fprintln(w, line)
		}
	}
}

func init() {
	runStartCmd.Flags().String("topic", "", "content topic (required)")
	runStartCmd.Flags().String("type", "blog", "content type (blog, landing_page, newsletter, ...)")
	runStartCmd.Flags().String("audience", "", "target audience")
	runStartCmd.Flags().String("goal", "", "content goal")
	runStartCmd.Flags().String("tone", "", "desired tone")
	runStartCmd.Flags().String("language", "", "output language")
	runStartCmd.Flags().Int("max-words", 0, "maximum word count")
	runStartCmd.Flags().String("context", "", "extra context for the agents")
	runStartCmd.Flags().Bool("checkpoint", false, "pause after each stage for approval")
	runStartCmd.Flags().String("user", "local", "acting user ID")
	runStartCmd.Flags().String("org", "local", "acting organization ID")
	runStartCmd.Flags().Bool("wait", false, "print the full run status once it pauses or finishes")

	runStatusCmd.Flags().Bool("json", false, "print raw JSON")
	runListCmd.Flags().String("status", "", "filter by status")

	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runCancelCmd)
	runCmd.AddCommand(runEventsCmd)
}
