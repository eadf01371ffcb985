// status.go implements the `status` subcommand: query the running daemon
// over the control socket and render the coordination snapshot.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/ipc"
)

// ///////////////////////////////////////////////
// Status Command
// ///////////////////////////////////////////////

func statusCmd(dataDir *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show live detection and coordination status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPaths := DataPaths{Root: *dataDir}

			var resp statusResponse
			if err := ipc.Call(dataPaths.Endpoint(), ipc.OpStatus, nil, &resp); err != nil {
				if errors.Is(err, ipc.ErrDaemonNotRunning) {
					fmt.Println("daemon not running (start with: ccoptimize run)")
					return nil
				}
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			renderStatus(resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// renderStatus prints a human-readable view of the daemon snapshot.
func renderStatus(resp statusResponse) {
	fmt.Printf("ccoptimize %s  (up %s)\n\n", resp.Version,
		time.Since(resp.StartedAt).Round(time.Second))

	det := resp.Detection
	if det.SessionActive {
		fmt.Printf("Session:     ACTIVE  %s\n", det.SessionID)
		fmt.Printf("Started:     %s\n", det.SessionStart.Format(time.RFC3339))
		fmt.Printf("Confidence:  %.2f\n", det.Confidence)
		fmt.Printf("Sources:     %s\n", strings.Join(det.Sources, ", "))
	} else {
		fmt.Println("Session:     none detected")
	}

	coordSt := resp.Coordination
	fmt.Printf("\nAgents:      %s\n", strings.Join(coordSt.RegisteredAgents, ", "))
	fmt.Printf("Completed:   %d sessions", coordSt.CompletedCount)
	if coordSt.CompletedCount > 0 {
		fmt.Printf("  (mean accuracy %.2f)", coordSt.MeanAccuracy)
	}
	fmt.Println()

	if len(coordSt.Reliability) > 0 {
		fmt.Println("\nSource reliability:")
		names := make([]string, 0, len(coordSt.Reliability))
		for name := range coordSt.Reliability {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-18s %.3f\n", name, coordSt.Reliability[name])
		}
	}

	if len(coordSt.ActiveSessions) > 0 {
		fmt.Println()
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleRounded)
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
			{Number: 2, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
			{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
			{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		})
		tw.AppendHeader(table.Row{"Session", "State", "Started", "Confidence"})
		for _, sess := range coordSt.ActiveSessions {
			tw.AppendRow(table.Row{
				sess.ID,
				string(sess.State),
				sess.StartTime.Format("15:04:05"),
				fmt.Sprintf("%.2f", sess.Confidence),
			})
		}
		tw.Render()
	}
}
