package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"noticebot/internal/notice"
)

type chatResult struct {
	ChatID string `json:"chat_id"`
	Mode   string `json:"mode"`
	Parts  int    `json:"parts,omitempty"`
	Cause  string `json:"cause,omitempty"`
	Error  string `json:"error,omitempty"`
}

func broadcastCmd() *cobra.Command {
	var n notice.Notice
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Broadcast one notice to every configured chat and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := n.Validate(); err != nil {
				return err
			}
			comp, _, _, err := loadComponents()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err := comp.Session.StartSession(ctx); err != nil {
				return err
			}
			rep := comp.Broadcast.Broadcast(ctx, n)

			results := make([]chatResult, 0, len(rep.Outcomes))
			for _, o := range rep.Outcomes {
				r := chatResult{ChatID: o.ChatID, Mode: string(o.Mode), Parts: o.Parts}
				if o.Cause != nil {
					r.Cause = o.Cause.Error()
				}
				if o.Err != nil {
					r.Error = o.Err.Error()
				}
				results = append(results, r)
			}
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed := rep.Failed(); failed > 0 {
				return fmt.Errorf("%d of %d chats received nothing", failed, len(rep.Outcomes))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64Var(&n.ID, "id", 0, "notice id")
	f.StringVar(&n.Title, "title", "", "notice title")
	f.StringVar(&n.Date, "date", "", "notice date (YYYY-MM-DD)")
	f.StringVar(&n.URL, "url", "", "attachment url")
	for _, name := range []string{"id", "title", "date", "url"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
