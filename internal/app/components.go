package app

import (
	"noticebot/internal/broadcast"
	"noticebot/internal/config"
	"noticebot/internal/delivery"
	"noticebot/internal/eventbus"
	"noticebot/internal/fetch"
	"noticebot/internal/operator"
	"noticebot/internal/session"
	"noticebot/internal/waha"
	"noticebot/pkg/logx"
)

// Components is the relay core: the session, its authentication flow and
// the broadcast pipeline. The CLI builds it on its own for one-shot commands.
type Components struct {
	Client    *waha.Client
	Remote    waha.Session
	Session   *session.Coordinator
	Fetcher   *fetch.Fetcher
	Delivery  *delivery.Client
	Broadcast *broadcast.Orchestrator
	// Telegram is nil unless operator.telegram_token and chat_id are set.
	Telegram *operator.Telegram
}

// Build wires the core components from cfg. bus may be nil.
func Build(cfg *config.Config, log logx.Logger, bus eventbus.Bus) (*Components, error) {
	wc, err := mapWAHAConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := waha.New(wc, log.With(logx.String("comp", "waha")))
	if err != nil {
		return nil, err
	}
	remote := client.Session(sessionName(cfg))

	var tg *operator.Telegram
	if tc, ok := mapTelegramConfig(cfg); ok {
		if tg, err = operator.NewTelegram(tc, log); err != nil {
			return nil, err
		}
	}

	sc, err := mapSessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	hooks := operator.Hooks(log.With(logx.String("comp", "operator")), cfg.Operator.QRPath, tg)
	coord := session.New(sc, remote, hooks, log, bus)

	fc, err := mapFetchConfig(cfg)
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(fc, log)

	dc, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender := delivery.New(dc, coord, remote, log)

	bc, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	orch := broadcast.New(bc, fetcher, sender, log, bus)

	return &Components{
		Client:    client,
		Remote:    remote,
		Session:   coord,
		Fetcher:   fetcher,
		Delivery:  sender,
		Broadcast: orch,
		Telegram:  tg,
	}, nil
}
