package waha

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"noticebot/internal/transport"
	logx "noticebot/pkg/logx"
)

// maxQRBytes bounds the QR challenge payload (a small PNG in practice).
const maxQRBytes = 2 << 20

// Session is the handle for one named session on the automation service.
type Session struct {
	c    *Client
	name string
}

func (s Session) Name() string { return s.name }

// Status fetches the current session status. A 404 is reported as a
// synthetic FAILED status so "never started" and "crashed" look the same.
func (s Session) Status(ctx context.Context) (SessionStatus, error) {
	var st SessionStatus
	err := s.c.call(ctx, "sessions.get", http.MethodGet,
		s.c.endpoint("/api/sessions/"+url.PathEscape(s.name), nil), nil, &st)
	if transport.IsNotFound(err) {
		return SessionStatus{Name: s.name, Status: StatusFailed}, nil
	}
	if err != nil {
		return SessionStatus{}, err
	}
	if st.Name == "" {
		st.Name = s.name
	}
	return st, nil
}

// Start asks the service to create and start the session. An "already
// started" answer (409/422) counts as success.
func (s Session) Start(ctx context.Context) error {
	err := s.c.call(ctx, "sessions.start", http.MethodPost,
		s.c.endpoint("/api/sessions/start", nil), startRequest{Name: s.name}, nil)
	var te *transport.Error
	if errors.As(err, &te) && (te.StatusCode == http.StatusConflict || te.StatusCode == http.StatusUnprocessableEntity) {
		s.c.log.Debug("session already started", logx.String("session", s.name), logx.Int("status", te.StatusCode))
		return nil
	}
	return err
}

// QRChallenge returns the raw QR image for the session.
func (s Session) QRChallenge(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	const op = "auth.qr"
	endpoint := s.c.endpoint("/api/"+url.PathEscape(s.name)+"/auth/qr", url.Values{"format": {"image"}})
	req, err := s.c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/png")
	resp, err := s.c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxQRBytes))
	if err != nil {
		return nil, transport.Failed(op, req.URL.Redacted(), err)
	}
	if len(b) == 0 {
		return nil, transport.Failed(op, req.URL.Redacted(), errors.New("empty qr payload"))
	}
	return b, nil
}

// SendFile posts a document message to chatID.
func (s Session) SendFile(ctx context.Context, chatID string, f File, caption string) error {
	if f.Mimetype == "" {
		f.Mimetype = "application/pdf"
	}
	err := s.c.call(ctx, "send.file", http.MethodPost, s.c.endpoint("/api/sendFile", nil), sendFileRequest{
		Session: s.name,
		ChatID:  chatID,
		File:    f,
		Caption: caption,
	}, nil)
	if err != nil {
		return fmt.Errorf("send file to %s: %w", chatID, err)
	}
	return nil
}

// SendLinkPreview posts a message with a rich preview of link.
func (s Session) SendLinkPreview(ctx context.Context, chatID, link, title string) error {
	err := s.c.call(ctx, "send.link_preview", http.MethodPost, s.c.endpoint("/api/send/link-preview", nil), sendLinkPreviewRequest{
		Session: s.name,
		ChatID:  chatID,
		URL:     link,
		Title:   title,
	}, nil)
	if err != nil {
		return fmt.Errorf("send link preview to %s: %w", chatID, err)
	}
	return nil
}

// SendText posts a plain text message.
func (s Session) SendText(ctx context.Context, chatID, text string) error {
	err := s.c.call(ctx, "send.text", http.MethodPost, s.c.endpoint("/api/sendText", nil), sendTextRequest{
		Session: s.name,
		ChatID:  chatID,
		Text:    text,
	}, nil)
	if err != nil {
		return fmt.Errorf("send text to %s: %w", chatID, err)
	}
	return nil
}
