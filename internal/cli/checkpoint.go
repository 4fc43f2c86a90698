package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell/internal/run"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Act on paused checkpoint sessions",
}

var checkpointStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the paused stage output and session state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		user, _ := cmd.Flags().GetString("user")
		st, err := a.controller.GetStatus(args[0], user)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Session:    %s (expires in %s)\n", st.Session.ID, st.ExpiresIn)
		fmt.Fprintf(w, "Run:        %s [%s]\n", st.Run.ID, st.Run.Status)
		fmt.Fprintf(w, "Paused at:  stage %d\n", st.Session.Stage)
		for _, ins := range st.Session.Instructions {
			fmt.Fprintf(w, "Instruction (stage %d): %s\n", ins.Stage, ins.Text)
		}
		if st.StageResult != nil {
			data, err := json.MarshalIndent(st.StageResult, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Stage output:\n%s\n", data)
		}
		return nil
	},
}

var checkpointApproveCmd = &cobra.Command{
	Use:   "approve <session-id>",
	Short: "Approve the paused stage output and advance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkpointAction(cmd, args[0], func(a *app, user string) (*run.Run, error) {
			return a.controller.Approve(args[0], user)
		})
	},
}

var checkpointEditCmd = &cobra.Command{
	Use:   "edit <session-id>",
	Short: "Replace the paused stage output with user-authored JSON, then advance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payloadJSON, _ := cmd.Flags().GetString("payload")
		var payload run.Payload
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return fmt.Errorf("parse --payload: %w", err)
		}
		return checkpointAction(cmd, args[0], func(a *app, user string) (*run.Run, error) {
			return a.controller.Edit(args[0], user, payload)
		})
	},
}

var checkpointInstructCmd = &cobra.Command{
	Use:   "instruct <session-id> <text>",
	Short: "Record instructions for all later stages, then advance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkpointAction(cmd, args[0], func(a *app, user string) (*run.Run, error) {
			return a.controller.AddInstructions(args[0], user, args[1])
		})
	},
}

var checkpointRegenerateCmd = &cobra.Command{
	Use:   "regenerate <session-id>",
	Short: "Re-run the paused stage, optionally with new instructions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("instructions")
		return checkpointAction(cmd, args[0], func(a *app, user string) (*run.Run, error) {
			return a.controller.Regenerate(args[0], user, text)
		})
	},
}

var checkpointStopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Cancel the run and close the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkpointAction(cmd, args[0], func(a *app, user string) (*run.Run, error) {
			return a.controller.Stop(args[0], user)
		})
	},
}

var checkpointSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark idle sessions past their expiry window as expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.sessions.SweepExpired(a.cfg.Pipeline.SessionExpiryDuration())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d session(s)\n", n)
		return nil
	},
}

// checkpointAction wires the shared open/act/report path for session commands.
func checkpointAction(cmd *cobra.Command, sessionID string, fn func(*app, string) (*run.Run, error)) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	user, _ := cmd.Flags().GetString("user")
	r, err := fn(a, user)
	if err != nil {
		return err
	}

	// Advancing actions hand the next stage to a background goroutine.
	// Block until the run pauses or finishes before reporting, so process
	// exit cannot kill the stage mid-flight.
	a.engine.Wait()
	if latest, err := a.runs.Get(r.ID); err == nil {
		r = latest
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s is now %s (stage %d)\n", r.ID, r.Status, r.CurrentStage)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{
		checkpointStatusCmd, checkpointApproveCmd, checkpointEditCmd,
		checkpointInstructCmd, checkpointRegenerateCmd, checkpointStopCmd,
	} {
		c.Flags().String("user", "local", "acting user ID")
	}
	checkpointEditCmd.Flags().String("payload", "", "replacement payload JSON (required)")
	checkpointRegenerateCmd.Flags().String("instructions", "", "instructions to apply to the retry")

	checkpointCmd.AddCommand(checkpointStatusCmd)
	checkpointCmd.AddCommand(checkpointApproveCmd)
	checkpointCmd.AddCommand(checkpointEditCmd)
	checkpointCmd.AddCommand(checkpointInstructCmd)
	checkpointCmd.AddCommand(checkpointRegenerateCmd)
	checkpointCmd.AddCommand(checkpointStopCmd)
	checkpointCmd.AddCommand(checkpointSweepCmd)
}
