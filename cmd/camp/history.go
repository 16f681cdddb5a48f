package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/camp/internal/runlog"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past campaign runs recorded in the ledger",
	RunE:  showHistory,
}

func init() {
	historyCmd.Flags().String("out-dir", "./camp-out", "Campaign output directory (where the ledger lives)")
}

func showHistory(cmd *cobra.Command, args []string) error {
	outDir, _ := cmd.Flags().GetString("out-dir")

	l, err := runlog.Open(outDir)
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.List()
	if err != nil {
		return err
	}

	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%s\t%d/%d ok\n",
			e.StartedAt.Format("2006-01-02 15:04:05"), e.Model, e.RunDir, e.Outcome, e.NumOK, e.NumTasks)
	}
	return nil
}
