// logs.go implements the `logs` subcommand: print the tail of the daemon log.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/logger"
)

// ///////////////////////////////////////////////
// Logs Command
// ///////////////////////////////////////////////

func logsCmd(dataDir *string) *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log tail",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPaths := DataPaths{Root: *dataDir}
			tail, err := logger.ReadTail(dataPaths.Log(), lines)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no log file yet")
					return nil
				}
				return err
			}
			fmt.Println(tail)
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	return cmd
}
