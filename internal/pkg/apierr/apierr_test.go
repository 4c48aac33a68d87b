package apierr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	t.Run("taxonomy error", func(t *testing.T) {
		err := New(KindValidation, "bad value")
		kind, ok := KindOf(err)
		if !ok {
			t.Fatal("expected ok")
		}
		if kind != KindValidation {
			t.Errorf("kind = %v, want %v", kind, KindValidation)
		}
	})

	t.Run("wrapped taxonomy error", func(t *testing.T) {
		inner := New(KindTimeout, "deadline")
		err := fmt.Errorf("fetching: %w", inner)
		kind, ok := KindOf(err)
		if !ok {
			t.Fatal("expected ok")
		}
		if kind != KindTimeout {
			t.Errorf("kind = %v, want %v", kind, KindTimeout)
		}
	})

	t.Run("foreign error", func(t *testing.T) {
		if _, ok := KindOf(errors.New("plain")); ok {
			t.Error("expected not ok for a foreign error")
		}
	})
}

func TestIsAuthentication(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindAuth, true},
		{KindRateLimited, true},
		{KindSessionExpired, true},
		{KindValidation, false},
		{KindNetwork, false},
	}

	for _, tc := range cases {
		err := New(tc.kind, "test")
		if got := IsAuthentication(err); got != tc.want {
			t.Errorf("IsAuthentication(%v) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	t.Run("network and timeout retry", func(t *testing.T) {
		if !IsRetryable(New(KindNetwork, "conn refused")) {
			t.Error("network errors should be retryable")
		}
		if !IsRetryable(New(KindTimeout, "deadline")) {
			t.Error("timeouts should be retryable")
		}
	})

	t.Run("server errors retry", func(t *testing.T) {
		err := &Error{Kind: KindHTTP, Status: 503}
		if !IsRetryable(err) {
			t.Error("5xx should be retryable")
		}
	})

	t.Run("client errors never retry", func(t *testing.T) {
		err := &Error{Kind: KindHTTP, Status: 400}
		if IsRetryable(err) {
			t.Error("4xx should not be retryable")
		}
	})

	t.Run("authentication never retries", func(t *testing.T) {
		if IsRetryable(New(KindSessionExpired, "expired")) {
			t.Error("session expiry should not be transport-retryable")
		}
		if IsRetryable(New(KindAuth, "bad password")) {
			t.Error("auth failures should not be retryable")
		}
	})
}

func TestErrorMessages(t *testing.T) {
	t.Run("validation carries field and value", func(t *testing.T) {
		err := &Error{Kind: KindValidation, Message: "out of range", Field: "humidify", Value: 0.9}
		msg := err.Error()
		if !strings.Contains(msg, "humidify") || !strings.Contains(msg, "0.9") {
			t.Errorf("message %q should name the field and value", msg)
		}
	})

	t.Run("rate limited carries the wait", func(t *testing.T) {
		err := &Error{Kind: KindRateLimited, Message: "too many attempts", Wait: 10 * time.Minute}
		if !strings.Contains(err.Error(), "10m") {
			t.Errorf("message %q should carry the remaining wait", err.Error())
		}
	})

	t.Run("http carries the status", func(t *testing.T) {
		err := &Error{Kind: KindHTTP, Status: 502, Message: "bad gateway"}
		if !strings.Contains(err.Error(), "502") {
			t.Errorf("message %q should carry the status", err.Error())
		}
	})
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindParse, cause, "decoding payload")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
}
