// Package transport holds the HTTP plumbing shared by the clients that talk to
// the automation service and to attachment hosts.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrTransport matches every *Error via errors.Is.
var ErrTransport = errors.New("transport error")

// Error describes a failed remote call: either a connection-level failure
// (StatusCode == 0) or an unexpected HTTP status.
type Error struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrTransport }

// Retryable reports whether repeating the call may succeed:
// connection failures, timeouts, 408, 429 and 5xx.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// Retryable reports whether err is a transport failure worth retrying.
// Errors that are not *Error are treated as retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return true
}

// IsNotFound reports whether err is an HTTP 404 from the remote side.
func IsNotFound(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.StatusCode == http.StatusNotFound
}

// StatusError builds an *Error from a non-success response. It consumes up to
// maxBodySnippet bytes of the body for diagnostics; the caller still closes it.
func StatusError(op string, resp *http.Response) *Error {
	e := &Error{Op: op}
	if resp == nil {
		return e
	}
	e.StatusCode = resp.StatusCode
	if resp.Request != nil && resp.Request.URL != nil {
		e.URL = resp.Request.URL.Redacted()
	}
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
		e.Body = strings.TrimSpace(string(b))
	}
	return e
}

// Failed wraps a connection-level failure.
func Failed(op, url string, err error) *Error {
	return &Error{Op: op, URL: url, Err: err}
}

const maxBodySnippet = 512

// NewClient returns an HTTP client with an overall per-request timeout.
// A zero timeout leaves requests bounded only by their context.
func NewClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 4
	tr.ResponseHeaderTimeout = 30 * time.Second
	return &http.Client{Timeout: timeout, Transport: tr}
}

// OK reports whether code is a 2xx status.
func OK(code int) bool { return code >= 200 && code < 300 }
