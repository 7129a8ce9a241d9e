package waha

import "time"

// Status is the remote session state.
type Status string

const (
	StatusStarting Status = "STARTING"
	StatusScanQR   Status = "SCAN_QR_CODE"
	StatusWorking  Status = "WORKING"
	StatusFailed   Status = "FAILED"
	StatusStopped  Status = "STOPPED"
)

// Me is the authenticated WhatsApp identity, if any.
type Me struct {
	ID       string `json:"id"`
	PushName string `json:"pushName,omitempty"`
}

// Engine describes the automation backend driving the session.
type Engine struct {
	Engine string `json:"engine"`
}

// SessionStatus is a point-in-time snapshot. It is never cached.
type SessionStatus struct {
	Name   string  `json:"name"`
	Status Status  `json:"status"`
	Me     *Me     `json:"me,omitempty"`
	Engine *Engine `json:"engine,omitempty"`
}

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each request; 0 leaves requests bounded by ctx only.
	Timeout time.Duration
}

// File is the attachment part of a sendFile request.
type File struct {
	Mimetype string `json:"mimetype"`
	Filename string `json:"filename"`
	Data     []byte `json:"data"` // encoded as base64 by encoding/json
}

type startRequest struct {
	Name string `json:"name"`
}

type sendFileRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	File    File   `json:"file"`
	Caption string `json:"caption,omitempty"`
}

type sendLinkPreviewRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	URL     string `json:"url"`
	Title   string `json:"title"`
}

type sendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}
