package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or authenticate the WhatsApp session",
	}
	cmd.AddCommand(sessionStatusCmd(), sessionStartCmd(), sessionQRCmd())
	return cmd
}

func sessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			comp, _, _, err := loadComponents()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			st, err := comp.Session.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func sessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session and run the QR flow until it is WORKING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			comp, _, _, err := loadComponents()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err := comp.Session.StartSession(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s is WORKING\n", comp.Session.Name())
			return nil
		},
	}
}

func sessionQRCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Fetch the current QR challenge image once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			comp, cfg, _, err := loadComponents()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			img, err := comp.Remote.QRChallenge(ctx)
			if err != nil {
				return err
			}
			path := out
			if path == "" {
				path = cfg.Operator.QRPath
			}
			if path == "" {
				path = "qr.png"
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(path, img, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "qr written to %s (%d bytes)\n", path, len(img))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default operator.qr_path or ./qr.png)")
	return cmd
}
