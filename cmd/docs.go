package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plagiascan/plagiascan-cli/pkg/api"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage uploaded documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your documents and their indexing status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd)
		if !a.session.Authenticated() {
			return errNotLoggedIn
		}
		if err := a.docs.Refresh(cmd.Context()); err != nil {
			return err
		}
		printDocuments(a.docs.Documents())
		return nil
	},
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document (pdf, docx, txt or html)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd)
		if !a.session.Authenticated() {
			return errNotLoggedIn
		}

		doc, err := a.docs.Upload(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %s (document %d, status %s)\n", doc.Filename, doc.ID, doc.Status)

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return watchDocuments(cmd, a)
		}
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			fmt.Printf("Delete document %d? [y/N] ", id)
			var answer string
			fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a := newApp(cmd)
		if !a.session.Authenticated() {
			return errNotLoggedIn
		}
		if err := a.docs.Refresh(cmd.Context()); err != nil {
			return err
		}
		if err := a.docs.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted document %d\n", id)
		return nil
	},
}

var docsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll until every document reaches a terminal status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd)
		if !a.session.Authenticated() {
			return errNotLoggedIn
		}
		return watchDocuments(cmd, a)
	},
}

// watchDocuments streams status transitions until the poller stops
// itself (every document terminal) or the command is interrupted.
func watchDocuments(cmd *cobra.Command, a *app) error {
	last := map[int64]string{}
	a.docs.SetOnChange(func(docs []api.Document) {
		for _, d := range docs {
			if last[d.ID] != d.Status {
				fmt.Printf("document %d\t%s\t%s\n", d.ID, d.Filename, d.Status)
				last[d.ID] = d.Status
			}
		}
	})

	a.docs.EnsurePolling()
	select {
	case <-a.docs.PollDone():
	case <-cmd.Context().Done():
		a.docs.StopPolling()
		return cmd.Context().Err()
	}

	if !a.session.Authenticated() {
		return errNotLoggedIn
	}
	fmt.Println("All documents are in a terminal state.")
	return nil
}

func printDocuments(docs []api.Document) {
	if len(docs) == 0 {
		fmt.Println("No documents uploaded yet.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tSTATUS")
	for _, d := range docs {
		fmt.Fprintf(w, "%d\t%s\t%s\n", d.ID, d.Filename, d.Status)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsUploadCmd)
	docsCmd.AddCommand(docsDeleteCmd)
	docsCmd.AddCommand(docsWatchCmd)

	docsUploadCmd.Flags().BoolP("watch", "w", false, "Keep polling until the document is indexed or failed")
	docsDeleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
}
