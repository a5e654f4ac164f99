package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored summaries and turns",
		RunE:  runHistory,
	}

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	conv, done, err := openConversation(cmd.Context())
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	defer done()

	snap, err := conv.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		b, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Fprintln(out, string(b))
		return nil
	}

	fmt.Fprintf(out, "summaries: %d  turns: %d  archives: %d\n", len(snap.Summaries), len(snap.Turns), snap.Archives)
	for i, s := range snap.Summaries {
		fmt.Fprintf(out, "[summary %d] %s\n", i+1, s.Text)
	}
	for _, t := range snap.Turns {
		fmt.Fprintf(out, "%s: %s\n", t.AuthorName, t.Content)
		fmt.Fprintf(out, "%s: %s\n", conv.BotName(), t.ReplyText)
	}
	return nil
}
