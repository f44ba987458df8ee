package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nutricoach/scheduling-api/internal/config"
	"github.com/nutricoach/scheduling-api/internal/repository/postgres"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeDB, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := migrator.Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeDB, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
			for _, s := range statuses {
				applied := "pending"
				if s.AppliedAt != nil {
					applied = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%03d\t%s\t%s\n", s.Version, s.Name, applied)
			}
			return w.Flush()
		},
	})

	return cmd
}

func openMigrator(cmd *cobra.Command) (*postgres.Migrator, func() error, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return nil, nil, fmt.Errorf("migrations need the postgres driver, got %q", cfg.Database.Driver)
	}
	db, err := postgres.NewDB(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewMigrator(db), db.Close, nil
}
