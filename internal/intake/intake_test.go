package intake

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noticebot/internal/dispatch"
	"noticebot/internal/notice"
	"noticebot/pkg/logx"
)

var sample = notice.Notice{ID: 9, Title: "Holiday", Date: "2024-08-17", URL: "https://example.org/9.pdf"}

type settle struct {
	acked, nacked, requeued bool
}

func (s *settle) Ack(uint64, bool) error { s.acked = true; return nil }
func (s *settle) Nack(_ uint64, _ bool, requeue bool) error {
	s.nacked, s.requeued = true, requeue
	return nil
}
func (s *settle) Reject(_ uint64, requeue bool) error { return s.Nack(0, false, requeue) }

type fakeJobs struct {
	err     error
	sources []string
}

func (f *fakeJobs) Submit(_ context.Context, n notice.Notice, source string) (dispatch.Job, error) {
	if f.err != nil {
		return dispatch.Job{}, f.err
	}
	f.sources = append(f.sources, source)
	return dispatch.Job{ID: "j", Notice: n, State: dispatch.StateQueued}, nil
}

func delivery(t *testing.T, body []byte) (amqp.Delivery, *settle) {
	t.Helper()
	s := &settle{}
	return amqp.Delivery{Acknowledger: s, DeliveryTag: 1, Body: body}, s
}

func TestDecode(t *testing.T) {
	env := NewEnvelope(sample, "scraper", time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC))
	body, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, sample, got.Data)
	assert.Equal(t, "amqp:scraper", got.source())

	bad := map[string]string{
		"not json":     `{`,
		"bad id":       `{"meta":{"id":"nope"},"data":{"id":9,"title":"t","date":"d","url":"https://x.org"}}`,
		"wrong type":   `{"meta":{"type":"deals.dispatched.v1"},"data":{"id":9,"title":"t","date":"d","url":"https://x.org"}}`,
		"invalid data": `{"meta":{},"data":{"id":0}}`,
	}
	for name, b := range bad {
		_, err := Decode([]byte(b))
		assert.ErrorIs(t, err, ErrPoison, name)
	}
}

func TestHandleSettlement(t *testing.T) {
	body, err := json.Marshal(Envelope{Data: sample})
	require.NoError(t, err)

	jobs := &fakeJobs{}
	c := New(Config{Queue: "notices"}, jobs, logx.Nop())

	d, s := delivery(t, body)
	c.Handle(context.Background(), d)
	assert.True(t, s.acked)
	assert.Equal(t, []string{"amqp"}, jobs.sources)

	d, s = delivery(t, []byte(`{"data":{}}`))
	c.Handle(context.Background(), d)
	assert.True(t, s.nacked)
	assert.False(t, s.requeued)

	c = New(Config{Queue: "notices"}, &fakeJobs{err: dispatch.ErrQueueFull}, logx.Nop())
	d, s = delivery(t, body)
	c.Handle(context.Background(), d)
	assert.True(t, s.nacked)
	assert.True(t, s.requeued)
}
