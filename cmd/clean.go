package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/segload/internal/output"
	"github.com/tanq16/segload/internal/progresslog"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean URL",
		Short: "Remove the partial file and saved progress of a download",
		Args:  cobra.ExactArgs(1),
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
			removed, err := cleanDownload(store, args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if removed == "" {
				output.PrintWarning("Nothing saved for " + args[0])
				return
			}
			output.PrintSuccess("Cleaned up " + removed)
		},
	}
}

// cleanDownload deletes the working file recorded for link and its log
// entry. It returns the removed path, or "" when nothing was recorded.
func cleanDownload(store progresslog.Store, link string) (string, error) {
	entries, err := store.List()
	if err != nil {
		return "", fmt.Errorf("error reading progress log: %w", err)
	}
	for _, e := range entries {
		if e.URL != link {
			continue
		}
		if e.FilePath != "" {
			if err := os.Remove(e.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("error removing %s: %w", e.FilePath, err)
			}
		}
		if err := store.Delete(link); err != nil {
			return "", fmt.Errorf("error clearing progress log: %w", err)
		}
		return e.FilePath, nil
	}
	return "", nil
}
