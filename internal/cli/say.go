package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/chloe/internal/conversation"
)

func init() {
	cmd := &cobra.Command{
		Use:   "say [message...]",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSay,
	}

	cmd.Flags().StringP("author", "a", "", "Author display name")
	cmd.Flags().String("author-id", "", "Author id used for the reply mention")

	RootCmd.AddCommand(cmd)
}

func runSay(cmd *cobra.Command, args []string) error {
	author, _ := cmd.Flags().GetString("author")
	authorID, _ := cmd.Flags().GetString("author-id")

	conv, done, err := openConversation(cmd.Context())
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	defer done()

	reply, err := conv.HandleIncomingMessage(cmd.Context(), conversation.IncomingMessage{
		Content:    strings.Join(args, " "),
		AuthorName: author,
		AuthorID:   authorID,
	})
	if err != nil {
		return fmt.Errorf("say: %w", err)
	}

	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		b, _ := json.MarshalIndent(reply, "", "  ")
		fmt.Fprintln(out, string(b))
		return nil
	}
	fmt.Fprintf(out, "%s: %s\n", conv.BotName(), reply.Text)
	if !reply.Persisted {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: turn was not saved")
	}
	return nil
}
