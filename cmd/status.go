package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/segload/internal/output"
	"github.com/tanq16/segload/internal/progresslog"
)

func newStatusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List resumable downloads and recently completed ones",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			store, err := cfg.OpenStore()
			if err != nil {
				output.PrintError(fmt.Sprintf("Error opening progress log: %v", err))
				os.Exit(1)
			}
			defer store.Close()
			if err := printStatus(store, limit); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Number of history entries to show")
	return cmd
}

func printStatus(store progresslog.Store, limit int) error {
	entries, err := store.List()
	if err != nil {
		return fmt.Errorf("error reading progress log: %w", err)
	}
	output.PrintHeader("Resumable downloads")
	if len(entries) == 0 {
		fmt.Println(output.FDebug("  none"))
	}
	for _, e := range entries {
		fmt.Printf("  %s %s %s\n", output.FPending(output.StyleSymbols["pending"]), e.URL, output.FDebug(output.StyleSymbols["arrow"]+" "+e.FilePath))
		fmt.Printf("    %s\n", output.FInfo(fmt.Sprintf("%s saved across %d segments", output.FormatBytes(uint64(e.Downloaded)), e.Segments)))
	}
	recorder, ok := store.(progresslog.HistoryRecorder)
	if !ok {
		return nil
	}
	history, err := recorder.History(limit)
	if err != nil {
		return fmt.Errorf("error reading history: %w", err)
	}
	fmt.Println()
	output.PrintHeader("Recently completed")
	if len(history) == 0 {
		fmt.Println(output.FDebug("  none"))
	}
	for _, h := range history {
		fmt.Printf("  %s %s %s\n", output.FDetail(h.FinishedAt.Local().Format(time.DateTime)), h.URL, output.FDebug(output.StyleSymbols["arrow"]+" "+h.FilePath))
	}
	return nil
}
