//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noticebot/pkg/logx"
)

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "noticebot.sqlite")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	for _, chat := range []string{"g1@g.us", "g2@g.us", "g3@g.us"} {
		require.NoError(t, st.AppendDelivery(ctx, DeliveryRecord{NoticeID: 42, ChatID: chat, Mode: "split", Parts: 3}))
	}
	recs, err := st.ListDeliveries(ctx, 42, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "g2@g.us", recs[0].ChatID)
	assert.Equal(t, 3, recs[1].Parts)

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, st.PutDedup(ctx, "notice:42", until))
	got, ok, err := st.GetDedup(ctx, "notice:42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(until))
}
