package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/plagiascan/plagiascan-cli/pkg/api"
)

var scanCmd = &cobra.Command{
	Use:   "scan <document-id>",
	Short: "Run a plagiarism scan and wait for the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}

		a := newApp(cmd)
		if !a.session.Authenticated() {
			return errNotLoggedIn
		}

		ctx := cmd.Context()
		if err := a.docs.Refresh(ctx); err != nil {
			return err
		}

		a.scans.SetOnUpdate(func(s api.Scan) {
			if !api.ScanTerminal(s.Status) {
				fmt.Printf("scan %d: %s\n", s.ScanID, s.Status)
			}
		})

		handle, err := a.scans.Initiate(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Scan %d started for document %d\n", handle.ScanID, id)

		select {
		case s, ok := <-a.scans.Done(handle.ScanID):
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

func init() {
	rootCmd.AddCommand(scanCmd)
}
