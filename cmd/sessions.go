package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/carrier-scraper/internal/model"
	"github.com/sells-group/carrier-scraper/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List scraping sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := st.ListSessions(ctx, store.SessionFilter{
			Status: model.SessionStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No sessions found.")
			return nil
		}

		formatSessions(cmd.OutOrStdout(), sessions)
		return nil
	},
}

func formatSessions(out io.Writer, sessions []model.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Session", "Job", "Status", "Page", "Records", "Updated", "Error"})
	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.ID,
			s.JobID,
			string(s.Status),
			s.CurrentPage,
			s.ScrapedCount,
			s.UpdatedAt.Local().Format(time.DateTime),
			truncate(s.ErrorMessage, 60),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	sessionsCmd.Flags().String("status", "", "filter by status (waiting_for_login, ready, scraping, completed, failed)")
	sessionsCmd.Flags().Int("limit", 50, "maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}
