package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"newsletter/internal/app"
	"newsletter/internal/config"
	"newsletter/internal/db"
	"newsletter/internal/logging"
)

var (
	migrateDryRun bool
	migrateStatus bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database if needed and apply pending migrations",
	Long: "Applies every migration script whose content has not been recorded in " +
		db.MigrationTable + ", in filename order. Scripts come from " +
		"database.migration.folder, or the built-in set when it is empty.",
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	settings, log, err := loadSettings()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	source := app.MigrationSource(settings.Database)
	out := cmd.OutOrStdout()

	if migrateStatus || migrateDryRun {
		return inspectMigrations(ctx, &settings.Database, source, migrateStatus, out, log)
	}

	pool, err := db.EnsureDatabase(ctx, &settings.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	report, err := db.NewMigrator(pool, log, nil).Run(ctx, source)
	renderScripts(out, "applied migrations", report.Applied)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d already applied", len(report.Skipped))))
	return nil
}

// inspectMigrations serves --status and --dry-run without creating the
// database or the tracking table.
func inspectMigrations(ctx context.Context, settings *config.DatabaseSettings, source fs.FS, status bool, out io.Writer, log *logging.Logger) error {
	settings.DefaultDatabase()
	exists, err := db.DatabaseExists(ctx, *settings, log)
	if err != nil {
		return err
	}
	if !exists {
		log.Warn("database does not exist yet", "database", settings.Database)
		if status {
			renderRecords(out, nil)
			return nil
		}
		scripts, err := db.ListScripts(source)
		if err != nil {
			return err
		}
		renderScripts(out, "pending migrations", db.Unique(scripts))
		return nil
	}

	pool, err := db.BuildPool(ctx, settings.ConnectionString(), db.PoolOptionsFrom(*settings), log)
	if err != nil {
		return err
	}
	defer pool.Close()
	migrator := db.NewMigrator(pool, log, nil)

	if status {
		records, err := migrator.Applied(ctx)
		if err != nil {
			return err
		}
		renderRecords(out, records)
		return nil
	}
	pending, err := migrator.Pending(ctx, source)
	if err != nil {
		return err
	}
	renderScripts(out, "pending migrations", pending)
	return nil
}

func renderScripts(w io.Writer, title string, scripts []db.Script) {
	fmt.Fprintln(w, titleStyle.Render("==> "+title))
	if len(scripts) == 0 {
		fmt.Fprintln(w, successStyle.Render("nothing to do"))
		return
	}
	rows := make([][]string, 0, len(scripts))
	for _, s := range scripts {
		rows = append(rows, []string{s.Filename, s.Checksum.String()})
	}
	fmt.Fprintln(w, newTable("file", "checksum").Rows(rows...))
}

func renderRecords(w io.Writer, records []db.MigrationRecord) {
	fmt.Fprintln(w, titleStyle.Render("==> "+db.MigrationTable))
	if len(records) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no migrations recorded"))
		return
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.Version),
			r.Filename,
			r.InstalledOn.Format("2006-01-02 15:04:05"),
			r.Checksum.String(),
		})
	}
	fmt.Fprintln(w, newTable("version", "file", "installed", "checksum").Rows(rows...))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers(headers...)
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "list pending scripts without changing the database")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list recorded migrations without changing the database")
	migrateCmd.MarkFlagsMutuallyExclusive("dry-run", "status")
	rootCmd.AddCommand(migrateCmd)
}
