package dietweb

import (
	"database/sql"
	"fmt"

	"github.com/pcrpg2df4s-blip/dietweb/internal/db"
	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users with a stored ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(func(sqldb *sql.DB) error {
			users, err := db.ListUsers(sqldb)
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d user(s)\n", len(users))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
}
