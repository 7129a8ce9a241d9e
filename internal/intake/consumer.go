package intake

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"noticebot/internal/dispatch"
	"noticebot/internal/notice"
	"noticebot/pkg/logx"
)

// Jobs is satisfied by *dispatch.Service.
type Jobs interface {
	Submit(ctx context.Context, n notice.Notice, source string) (dispatch.Job, error)
}

type Config struct {
	URL      string
	Queue    string
	Prefetch int
}

type Consumer struct {
	cfg  Config
	jobs Jobs
	log  logx.Logger
}

func New(cfg Config, jobs Jobs, log logx.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Consumer{cfg: cfg, jobs: jobs, log: log.With(logx.String("comp", "intake"), logx.String("queue", cfg.Queue))}
}

// Run consumes until ctx is done or the connection drops. A dropped
// connection returns an error so a supervisor can restart it.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp qos: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.log.Info("intake consuming")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-closed:
			if !ok || err == nil {
				return errors.New("amqp connection closed")
			}
			return fmt.Errorf("amqp connection closed: %w", err)
		case d, ok := <-msgs:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle settles one delivery: ack when accepted or deduplicated, drop
// invalid payloads, requeue when the dispatcher cannot take it now.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	env, err := Decode(d.Body)
	if err != nil {
		c.log.Warn("intake message rejected", logx.String("message_id", d.MessageId), logx.Err(err))
		_ = d.Nack(false, false)
		return
	}
	log := c.log.With(logx.String("meta_id", env.Meta.ID), logx.Int64("notice", env.Data.ID))

	job, err := c.jobs.Submit(ctx, env.Data, env.source())
	if err != nil {
		log.Warn("intake submit failed; requeueing", logx.Err(err))
		_ = d.Nack(false, true)
		return
	}
	log.Info("intake accepted", logx.String("job", job.ID), logx.String("state", string(job.State)))
	_ = d.Ack(false)
}
