// sessions.go implements the `sessions` subcommand: list completed sessions
// from the running daemon, falling back to the on-disk archive when the
// daemon is stopped.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/config"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/coordinator"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/ipc"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/store"
)

// ///////////////////////////////////////////////
// Sessions Command
// ///////////////////////////////////////////////

func sessionsCmd(dataDir *string) *cobra.Command {
	var asJSON bool
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List completed sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPaths := DataPaths{Root: *dataDir}

			sessions, err := fetchSessions(dataPaths, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}
			renderSessions(dataPaths, sessions)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to show")
	return cmd
}

// fetchSessions asks the daemon first; when it is not running the archive
// database serves the same view.
func fetchSessions(dataPaths DataPaths, limit int) ([]coordinator.Session, error) {
	var resp sessionsResponse
	err := ipc.Call(dataPaths.Endpoint(), ipc.OpSessions, nil, &resp)
	if err == nil {
		sessions := resp.Sessions
		if limit > 0 && len(sessions) > limit {
			// History arrives oldest first; keep the newest tail.
			sessions = sessions[len(sessions)-limit:]
		}
		return sessions, nil
	}
	if !errors.Is(err, ipc.ErrDaemonNotRunning) {
		return nil, err
	}

	db, dbErr := store.Open(dataPaths.DB())
	if dbErr != nil {
		return nil, fmt.Errorf("open session archive: %w", dbErr)
	}
	defer db.Close()
	return db.RecentSessions(limit)
}

// renderSessions prints the session table, newest last.
func renderSessions(dataPaths DataPaths, sessions []coordinator.Session) {
	if len(sessions) == 0 {
		fmt.Println("no completed sessions")
		return
	}

	cfg, err := config.Load(dataPaths.Root)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 6, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
	})
	tw.AppendHeader(table.Row{"Session", "State", "Started", "Tokens", "Accuracy", "Reason"})

	for _, sess := range sessions {
		totalTokens := sess.Usage.InputTokens + sess.Usage.OutputTokens
		tw.AppendRow(table.Row{
			sess.ID,
			string(sess.State),
			sess.StartTime.Format(time.DateTime),
			cfg.FormatTokens(totalTokens),
			fmt.Sprintf("%.2f", sess.AccuracyScore),
			sess.Reason,
		})
	}
	tw.Render()
}
