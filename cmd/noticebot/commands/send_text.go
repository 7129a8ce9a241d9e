package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// send-text is an operator tool; notices themselves always go out as files
// or link previews.
func sendTextCmd() *cobra.Command {
	var chat, text string
	cmd := &cobra.Command{
		Use:   "send-text",
		Short: "Send one plain text message to a chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			comp, _, _, err := loadComponents()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err := comp.Delivery.SendText(ctx, chat, text); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&chat, "chat", "", "destination chat id")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	_ = cmd.MarkFlagRequired("chat")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
