package main

import (
	"fmt"
	"os"

	"github.com/amp-labs/denguebot/geo"
	"github.com/spf13/cobra"
)

func newFacilitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facilities",
		Short: "Manage the hospital and clinic index",
	}

	defaultDB := os.Getenv("DATABASE_PATH")
	if defaultDB == "" {
		defaultDB = "denguebot.db"
	}

	cmd.PersistentFlags().String("db", defaultDB, "SQLite database path")

	cmd.AddCommand(&cobra.Command{
		Use:   "import <csv>",
		Short: "Import facilities from a CSV file",
		Long: "Import facilities from a CSV file with the columns name, address, phone, " +
			"opening_hours, lat and lng. Rows are matched on address and updated in place.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := cmd.Flags().GetString("db")
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}

			defer func() {
				_ = f.Close()
			}()

			facilities, err := geo.ReadCSV(f)
			if err != nil {
				return err
			}

			db, err := openDatabase(cmd.Context(), dbPath, 0)
			if err != nil {
				return err
			}

			defer func() {
				_ = db.Close()
			}()

			store := geo.NewFacilityStore(db)

			imported, err := store.Upsert(cmd.Context(), facilities)
			if err != nil {
				return err
			}

			total, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d facilities, %d in the index\n", imported, total)

			return nil
		},
	})

	return cmd
}
