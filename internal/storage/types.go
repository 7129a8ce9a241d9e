package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one chat's outcome for one notice.
type DeliveryRecord struct {
	At       time.Time `json:"at"`
	NoticeID int64     `json:"notice_id"`
	JobID    string    `json:"job_id,omitempty"`
	ChatID   string    `json:"chat_id"`
	Mode     string    `json:"mode"`
	Parts    int       `json:"parts,omitempty"`
	Bytes    int       `json:"bytes,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Store is the persistence API used by the dispatcher and the audit writer.
type Store interface {
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// ListDeliveries returns the most recent records for a notice, oldest
	// first. limit <= 0 means no limit.
	ListDeliveries(ctx context.Context, noticeID int64, limit int) ([]DeliveryRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
