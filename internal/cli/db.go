package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local database",
}

var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the database path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := db.DefaultDBPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate all tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := db.DefaultDBPath()
		if err != nil {
			return err
		}
		database, err := db.Open(path)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "database reset")
		return nil
	},
}

var dbUsageCmd = &cobra.Command{
	Use:   "usage <org-id>",
	Short: "Print aggregate token and cost usage for an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := db.DefaultDBPath()
		if err != nil {
			return err
		}
		database, err := db.Open(path)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(); err != nil {
			return err
		}

		tokens, cost, err := database.OrgUsageTotals(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "org %s: %d tokens, $%.4f\n", args[0], tokens, cost)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbPathCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbUsageCmd)
}
