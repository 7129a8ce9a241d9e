// Package intake consumes notices from an AMQP queue and hands them to the
// dispatcher, alongside the webhook.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"noticebot/internal/notice"
)

// ErrPoison marks a message that can never be accepted.
var ErrPoison = errors.New("poison message")

// Meta identifies the producer of one message.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Type          string    `json:"type,omitempty"`
	Time          time.Time `json:"time"`
}

// Envelope is the wire shape of a queued notice.
type Envelope struct {
	Meta Meta          `json:"meta"`
	Data notice.Notice `json:"data"`
}

// NoticeType is accepted in Meta.Type; an empty type is accepted too.
const NoticeType = "notices.published.v1"

// NewEnvelope wraps n with a fresh id.
func NewEnvelope(n notice.Notice, producer string, now time.Time) Envelope {
	return Envelope{
		Meta: Meta{ID: uuid.NewString(), Producer: producer, Type: NoticeType, Time: now.UTC()},
		Data: n,
	}
}

// Decode parses and validates one message body. Every error wraps ErrPoison.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrPoison, err)
	}
	if env.Meta.ID != "" {
		if _, err := uuid.Parse(env.Meta.ID); err != nil {
			return Envelope{}, fmt.Errorf("%w: meta.id: %v", ErrPoison, err)
		}
	}
	if env.Meta.Type != "" && env.Meta.Type != NoticeType {
		return Envelope{}, fmt.Errorf("%w: unexpected type %q", ErrPoison, env.Meta.Type)
	}
	if err := env.Data.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrPoison, err)
	}
	return env, nil
}

func (e Envelope) source() string {
	if e.Meta.Producer == "" {
		return "amqp"
	}
	return "amqp:" + e.Meta.Producer
}
