package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/plagiascan/plagiascan-cli/internal/utils"
	"github.com/plagiascan/plagiascan-cli/pkg/api"
	"github.com/plagiascan/plagiascan-cli/pkg/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <scan-id>",
	Short: "Show the report for a scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid scan id %q", args[0])
		}

		a := newApp(cmd)
		if !a.session.Authenticated() {
			return errNotLoggedIn
		}

		ctx := cmd.Context()
		s, err := a.scans.Refresh(ctx, id)
		if err != nil {
			return err
		}
		if api.ScanTerminal(s.Status) {
			return renderScan(s)
		}

		if watch, _ := cmd.Flags().GetBool("watch"); !watch {
			fmt.Printf("Scan %d is still %s. Re-run with --watch to wait for it.\n", id, s.Status)
			return nil
		}

		a.scans.Watch(id)
		select {
		case s, ok := <-a.scans.Done(id):
			if !ok {
				return errNotLoggedIn
			}
			return renderScan(s)
		case <-ctx.Done():
			a.poll.StopAll()
			return ctx.Err()
		}
	},
}

func renderScan(s api.Scan) error {
	c, err := report.Classify(s)
	if err != nil {
		return err
	}
	if c.Failed {
		fmt.Printf("Scan %d failed: %s\n", s.ScanID, c.Error)
		return nil
	}

	fmt.Printf("Plagiarism score: %.2f%% [%s]\n", c.Score, c.Band)
	fmt.Println(c.Summary())
	if c.AI != nil {
		fmt.Printf("AI content probability: %.1f%% (label: %s)\n", c.AI.AIProbability*100, c.AI.Label)
	}
	fmt.Printf("Matched %d of %d chunks\n", c.MatchedChunks, c.TotalChunks)

	for _, m := range c.Matches {
		fmt.Printf("\nChunk #%d - %.1f%% match, source document %d\n",
			m.ChunkIndex+1, m.BestMatch.Score*100, m.BestMatch.SourceDocID)
		fmt.Printf("  yours:  %s\n", utils.Truncate(m.ChunkText, 120))
		fmt.Printf("  source: %s\n", utils.Truncate(m.BestMatch.Text, 120))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().BoolP("watch", "w", false, "Poll until the scan finishes")
}
