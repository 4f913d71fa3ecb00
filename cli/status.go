package main

import (
	"errors"
	"fmt"
	"io/fs"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photosync/config"
	"photosync/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the state file records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		out := cmd.OutOrStdout()
		stats, err := storage.ReadStats(e.cfg.StateFile)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(out, "No sync has completed yet (%s not found).\n", e.cfg.StateFile)
			return nil
		}
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "State file:\t%s\n", stats.Path)
		fmt.Fprintf(tw, "Synced items:\t%s\n", humanize.Comma(int64(stats.TotalItems)))
		if stats.LastSync.IsZero() {
			fmt.Fprintf(tw, "Last sync:\tunknown\n")
		} else {
			fmt.Fprintf(tw, "Last sync:\t%s (%s)\n", stats.LastSync.Format("2006-01-02 15:04:05"), humanize.Time(stats.LastSync))
		}
		fmt.Fprintf(tw, "Download directory:\t%s\n", e.cfg.DownloadDir)
		return tw.Flush()
	},
}

func init() {
	d := config.DefaultConfig()
	statusCmd.Flags().String("state-file", d.StateFile, "sync state file")
	statusCmd.Flags().StringP("download-dir", "d", d.DownloadDir, "directory to download into")
	rootCmd.AddCommand(statusCmd)
}
