package broadcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noticebot/internal/clock"
	"noticebot/internal/eventbus"
	"noticebot/internal/fetch"
	"noticebot/internal/notice"
	"noticebot/internal/transport"
	"noticebot/pkg/logx"
)

const mib = 1 << 20

type fakeFetcher struct {
	calls int
	data  []byte
	err   error
	// partSize mimics the real fetcher's too-large classification.
	partSize int64
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.partSize > 0 && int64(len(f.data)) > f.partSize {
		return nil, &fetch.TooLargeError{Size: int64(len(f.data)), Limit: f.partSize, Data: f.data}
	}
	return f.data, nil
}

type fileCall struct {
	chat, filename, caption string
	data                    []byte
}

type linkCall struct {
	chat, link, title string
}

type fakeSender struct {
	files    []fileCall
	links    []linkCall
	failFile map[string]bool
	failLink map[string]bool
}

func (s *fakeSender) SendFile(_ context.Context, chat string, data []byte, filename, caption string) error {
	s.files = append(s.files, fileCall{chat: chat, filename: filename, caption: caption, data: data})
	if s.failFile[chat] {
		return errors.New("send failed")
	}
	return nil
}

func (s *fakeSender) SendLinkPreview(_ context.Context, chat, link, title string) error {
	s.links = append(s.links, linkCall{chat: chat, link: link, title: title})
	if s.failLink[chat] {
		return errors.New("link failed")
	}
	return nil
}

var exam = notice.Notice{ID: 42, Title: "Exam Schedule", Date: "2024-08-01", URL: "https://host/exam.pdf"}

func newTestOrchestrator(chats []string, f Fetcher, s Sender, bus eventbus.Bus) (*Orchestrator, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC))
	o := New(Config{Chats: chats}, f, s, logx.Nop(), bus, WithClock(clk))
	return o, clk
}

func TestBroadcastSmallAttachmentSingleFile(t *testing.T) {
	f := &fakeFetcher{data: bytes.Repeat([]byte("a"), 1024), partSize: 50 * mib}
	s := &fakeSender{}
	o, _ := newTestOrchestrator([]string{"g1@g.us"}, f, s, nil)

	rep := o.Broadcast(context.Background(), exam)

	require.Len(t, s.files, 1)
	assert.Equal(t, "g1@g.us", s.files[0].chat)
	assert.Equal(t, "Notice_42.pdf", s.files[0].filename)
	assert.Contains(t, s.files[0].caption, "Exam Schedule")
	assert.Empty(t, s.links)
	require.Len(t, rep.Outcomes, 1)
	assert.Equal(t, ModeFile, rep.Outcomes[0].Mode)
	assert.Equal(t, 0, rep.Failed())
}

func TestBroadcastFetchFailureFallsBackToLink(t *testing.T) {
	f := &fakeFetcher{err: &transport.Error{Op: "fetch attachment", StatusCode: 503}}
	s := &fakeSender{}
	o, _ := newTestOrchestrator([]string{"g1@g.us"}, f, s, nil)

	rep := o.Broadcast(context.Background(), exam)

	assert.Empty(t, s.files)
	require.Len(t, s.links, 1)
	assert.Equal(t, "https://host/exam.pdf", s.links[0].link)
	assert.Contains(t, s.links[0].title, "click to view")
	assert.Equal(t, ModeLink, rep.Outcomes[0].Mode)
	assert.ErrorIs(t, rep.Outcomes[0].Cause, transport.ErrTransport)
	assert.NoError(t, rep.Outcomes[0].Err)
}

func TestBroadcastLargeAttachmentSplitsInOrder(t *testing.T) {
	data := make([]byte, 120*mib)
	for i := range data {
		data[i] = byte(i % 251)
	}
	f := &fakeFetcher{data: data, partSize: 50 * mib}
	s := &fakeSender{}
	o, clk := newTestOrchestrator([]string{"g1@g.us"}, f, s, nil)

	rep := o.Broadcast(context.Background(), exam)

	require.Len(t, s.files, 3)
	var joined []byte
	for i, c := range s.files {
		assert.Equal(t, exam.PartFilename(i+1, 3), c.filename)
		assert.Contains(t, c.caption, fmt.Sprintf("(Part %d of 3)", i+1))
		joined = append(joined, c.data...)
	}
	assert.Len(t, s.files[0].data, 50*mib)
	assert.Len(t, s.files[1].data, 50*mib)
	assert.Len(t, s.files[2].data, 20*mib)
	assert.True(t, bytes.Equal(data, joined))
	assert.Equal(t, "Notice_42_Part_1_of_3.pdf", s.files[0].filename)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Sleeps())
	assert.Empty(t, s.links)
	assert.Equal(t, ModeSplit, rep.Outcomes[0].Mode)
	assert.Equal(t, 3, rep.Outcomes[0].Parts)
}

func TestBroadcastExactlyPartSizeIsSingleFile(t *testing.T) {
	f := &fakeFetcher{data: make([]byte, 50*mib), partSize: 50 * mib}
	s := &fakeSender{}
	o, _ := newTestOrchestrator([]string{"g1@g.us"}, f, s, nil)

	o.Broadcast(context.Background(), exam)

	require.Len(t, s.files, 1)
	assert.Equal(t, "Notice_42.pdf", s.files[0].filename)
}

func TestBroadcastOneByteOverSplitsInTwo(t *testing.T) {
	f := &fakeFetcher{data: make([]byte, 50*mib+1), partSize: 50 * mib}
	s := &fakeSender{}
	o, _ := newTestOrchestrator([]string{"g1@g.us"}, f, s, nil)

	o.Broadcast(context.Background(), exam)

	require.Len(t, s.files, 2)
	assert.Len(t, s.files[0].data, 50*mib)
	assert.Len(t, s.files[1].data, 1)
	assert.Equal(t, "Notice_42_Part_2_of_2.pdf", s.files[1].filename)
}

func TestBroadcastIsolatesChatFailures(t *testing.T) {
	chats := []string{"g1@g.us", "g2@g.us", "g3@g.us"}
	f := &fakeFetcher{data: []byte("pdf")}
	s := &fakeSender{
		failFile: map[string]bool{"g2@g.us": true},
		failLink: map[string]bool{"g2@g.us": true},
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	o, _ := newTestOrchestrator(chats, f, s, bus)

	rep := o.Broadcast(context.Background(), exam)

	require.Len(t, rep.Outcomes, 3)
	assert.Equal(t, []Mode{ModeFile, ModeNone, ModeFile}, []Mode{rep.Outcomes[0].Mode, rep.Outcomes[1].Mode, rep.Outcomes[2].Mode})
	assert.Error(t, rep.Outcomes[1].Err)
	assert.Equal(t, 1, rep.Failed())
	assert.Len(t, s.files, 3)
	assert.Equal(t, 1, f.calls)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{
		eventbus.TypeDeliverySent,
		eventbus.TypeDeliveryFailed,
		eventbus.TypeDeliverySent,
		eventbus.TypeBroadcastFinished,
	}, types)
}

func TestBroadcastRetriesFailedFetchPerChat(t *testing.T) {
	chats := []string{"g1@g.us", "g2@g.us", "g3@g.us"}
	f := &fakeFetcher{err: errors.New("host down")}
	s := &fakeSender{}
	o, _ := newTestOrchestrator(chats, f, s, nil)

	rep := o.Broadcast(context.Background(), exam)

	assert.Equal(t, 3, f.calls)
	assert.Len(t, s.links, 3)
	for _, out := range rep.Outcomes {
		assert.Equal(t, ModeLink, out.Mode)
	}
}

func TestBroadcastPartFailureFallsBack(t *testing.T) {
	f := &fakeFetcher{data: make([]byte, 3000), partSize: 1000}
	s := &fakeSender{failFile: map[string]bool{"g1@g.us": true}}
	clk := clock.Fake(time.Unix(0, 0))
	o := New(Config{Chats: []string{"g1@g.us"}, PartSize: 1000}, f, s, logx.Nop(), nil, WithClock(clk))

	rep := o.Broadcast(context.Background(), exam)

	assert.Len(t, s.files, 1)
	assert.Len(t, s.links, 1)
	assert.Equal(t, ModeLink, rep.Outcomes[0].Mode)
	assert.Equal(t, 0, rep.Outcomes[0].Parts)
}

func TestBroadcastCanceledContextMarksRemainingChats(t *testing.T) {
	f := &fakeFetcher{data: []byte("pdf")}
	s := &fakeSender{}
	o, _ := newTestOrchestrator([]string{"g1@g.us", "g2@g.us"}, f, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := o.Broadcast(ctx, exam)

	require.Len(t, rep.Outcomes, 2)
	for _, out := range rep.Outcomes {
		assert.Equal(t, ModeNone, out.Mode)
		assert.ErrorIs(t, out.Err, context.Canceled)
	}
	assert.Empty(t, s.files)
}

func TestSplitReconstructsOriginal(t *testing.T) {
	for _, size := range []int{1, 999, 1000, 1001, 2000, 4321} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}
		parts := Split(data, 1000)

		want := (size + 999) / 1000
		require.Len(t, parts, want, "size %d", size)

		var joined []byte
		for _, p := range parts {
			assert.LessOrEqual(t, len(p), 1000)
			joined = append(joined, p...)
		}
		assert.Equal(t, data, joined, "size %d", size)
	}
}

func TestSplitPartsDoNotAlias(t *testing.T) {
	data := []byte("aaaabbbb")
	parts := Split(data, 4)
	_ = append(parts[0], 'x')
	assert.Equal(t, []byte("aaaabbbb"), data)
}
