package waha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noticebot/internal/transport"
	logx "noticebot/pkg/logx"
)

func newTestSession(t *testing.T, h http.HandlerFunc) Session {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", APIKey: "secret"}, logx.Nop())
	require.NoError(t, err)
	return c.Session("default")
}

func TestStatusDecodes(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/default", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(`{"name":"default","status":"WORKING","me":{"id":"91999@c.us","pushName":"Bot"},"engine":{"engine":"WEBJS"}}`))
	})

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, st.Status)
	require.NotNil(t, st.Me)
	assert.Equal(t, "91999@c.us", st.Me.ID)
	assert.Equal(t, "WEBJS", st.Engine.Engine)
}

func TestStatusNotFoundIsSyntheticFailed(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "default", st.Name)
	assert.Nil(t, st.Me)
}

func TestStatusServerErrorIsTransportError(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := s.Status(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrTransport))
	assert.True(t, transport.Retryable(err))
}

func TestStartAlreadyStartedIsSuccess(t *testing.T) {
	var body startRequest
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sessions/start", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		http.Error(w, "already started", http.StatusUnprocessableEntity)
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, "default", body.Name)
}

func TestQRChallenge(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/default/auth/qr", r.URL.Path)
		assert.Equal(t, "image", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	})

	got, err := s.QRChallenge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, png, got)
}

func TestQRChallengeFailure(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no qr", http.StatusBadRequest)
	})
	_, err := s.QRChallenge(context.Background())
	require.ErrorIs(t, err, transport.ErrTransport)
}

func TestSendFileEncodesBase64(t *testing.T) {
	var raw map[string]any
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sendFile", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.WriteHeader(http.StatusCreated)
	})

	err := s.SendFile(context.Background(), "g1@g.us", File{Filename: "Notice_42.pdf", Data: []byte("hi")}, "caption")
	require.NoError(t, err)

	assert.Equal(t, "default", raw["session"])
	assert.Equal(t, "g1@g.us", raw["chatId"])
	assert.Equal(t, "caption", raw["caption"])
	file := raw["file"].(map[string]any)
	assert.Equal(t, "aGk=", file["data"])
	assert.Equal(t, "application/pdf", file["mimetype"])
	assert.Equal(t, "Notice_42.pdf", file["filename"])
}

func TestSendLinkPreviewAndText(t *testing.T) {
	var paths []string
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, s.SendLinkPreview(context.Background(), "g1@g.us", "https://host/exam.pdf", "Exam"))
	require.NoError(t, s.SendText(context.Background(), "g1@g.us", "hello"))
	assert.Equal(t, []string{"/api/send/link-preview", "/api/sendText"}, paths)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: ""}, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{BaseURL: "ftp://host"}, logx.Nop())
	require.Error(t, err)
}
