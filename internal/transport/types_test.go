package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{0, true},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		e := &Error{Op: "x", StatusCode: tt.code}
		if got := e.Retryable(); got != tt.want {
			t.Fatalf("Retryable(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if !Retryable(errors.New("plain")) {
		t.Fatal("plain errors should be retryable")
	}
	if Retryable(nil) {
		t.Fatal("nil is not retryable")
	}
}

func TestStatusErrorReadsSnippet(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader(" session not found \n")),
	}
	err := fmt.Errorf("wrapped: %w", StatusError("sessions.get", resp))

	if !IsNotFound(err) {
		t.Fatal("expected not found")
	}
	if !errors.Is(err, ErrTransport) {
		t.Fatal("expected errors.Is(err, ErrTransport)")
	}
	if !strings.Contains(err.Error(), "http 404: session not found") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
