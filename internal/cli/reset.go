package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Archive the remaining turns and start the conversation over",
		RunE:  runReset,
	}

	RootCmd.AddCommand(cmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	conv, done, err := openConversation(cmd.Context())
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	defer done()

	record, err := conv.Reset(cmd.Context())
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		b, _ := json.MarshalIndent(map[string]any{
			"archive_id":     record.ID,
			"archived_turns": len(record.Turns),
		}, "", "  ")
		fmt.Fprintln(out, string(b))
		return nil
	}
	fmt.Fprintf(out, "archived %d turns\n", len(record.Turns))
	return nil
}
