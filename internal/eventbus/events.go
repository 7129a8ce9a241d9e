package eventbus

import "time"

// Event types published by the relay.
const (
	TypeQRChallenge       = "session.qr"
	TypeAuthenticated     = "session.authenticated"
	TypeAuthFailed        = "session.auth_failed"
	TypeDeliverySent      = "delivery.sent"
	TypeDeliveryFallback  = "delivery.fallback"
	TypeDeliveryFailed    = "delivery.failed"
	TypeBroadcastFinished = "broadcast.finished"
	TypeNoticeDeduped     = "notice.deduped"
)

// SessionEvent accompanies session.* events.
type SessionEvent struct {
	Session string `json:"session"`
	Status  string `json:"status,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DeliveryEvent accompanies delivery.* events. Mode is one of "file",
// "split", "link" (or "none" when nothing could be sent).
type DeliveryEvent struct {
	NoticeID int64     `json:"notice_id"`
	JobID    string    `json:"job_id,omitempty"`
	ChatID   string    `json:"chat_id"`
	Mode     string    `json:"mode"`
	Parts    int       `json:"parts,omitempty"`
	Bytes    int       `json:"bytes,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// BroadcastEvent accompanies broadcast.finished and notice.deduped.
type BroadcastEvent struct {
	NoticeID int64         `json:"notice_id"`
	JobID    string        `json:"job_id,omitempty"`
	Chats    int           `json:"chats"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took"`
}
