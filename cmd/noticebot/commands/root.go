package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"noticebot/internal/app"
	"noticebot/internal/config"
	"noticebot/pkg/logx"
)

var (
	cfgPath  string
	logLevel string
)

func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "noticebot",
		Short:         "Relay published notices to WhatsApp groups",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config yaml or json")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level for one-shot commands")

	root.AddCommand(serveCmd(), sessionCmd(), broadcastCmd(), sendTextCmd())
	return root
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// loadComponents builds the relay core for a one-shot command, without any
// of the long-running surfaces.
func loadComponents() (*app.Components, *config.Config, logx.Logger, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, nil, logx.Logger{}, err
	}
	log := logx.NewConsole(logLevel)
	comp, err := app.Build(cfg, log, nil)
	if err != nil {
		return nil, nil, logx.Logger{}, err
	}
	return comp, cfg, log, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
