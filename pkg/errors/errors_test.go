package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	err := NewTimeoutError("call exceeded deadline", nil)
	if !strings.Contains(err.Error(), "CallTimeout") {
		t.Errorf("expected the code name in the message, got %q", err.Error())
	}

	cause := errors.New("i/o timeout")
	err = NewConnectionError("dial failed", cause)
	if !strings.Contains(err.Error(), "i/o timeout") {
		t.Errorf("expected the cause in the message, got %q", err.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("refused")
	err := NewEstablishError("svc", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestRetryability(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"connection", NewConnectionError("lost", nil), true},
		{"connection lost", NewConnectionLostError(nil), true},
		{"connection refused", NewConnectionRefusedError(nil), true},
		{"timeout", NewTimeoutError("deadline", nil), true},
		{"establish", NewEstablishError("svc", nil), true},
		{"transient execution", NewToolExecutionError("flaky", true, nil), true},
		{"permanent execution", NewToolExecutionError("bad input", false, nil), false},
		{"circuit open", NewCircuitOpenError("svc"), false},
		{"pool exhausted", NewPoolExhaustedError("svc"), false},
		{"server unknown", NewServerUnknownError("svc"), false},
		{"invalid argument", NewInvalidArgumentError("nil args"), false},
		{"foreign error defaults retryable", errors.New("unclassified"), true},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	if !IsCategory(NewCircuitOpenError("svc"), CategoryCircuit) {
		t.Error("expected circuit category")
	}
	if !IsCategory(NewPoolExhaustedError("svc"), CategoryPool) {
		t.Error("expected pool category")
	}
	if IsCategory(errors.New("plain"), CategoryPool) {
		t.Error("expected foreign errors to match no category")
	}
}

func TestWithContextCopies(t *testing.T) {
	base := NewTimeoutError("deadline", nil)
	ctxErr := base.WithContext("svc", "lookup", 2)

	if base.Context() != nil {
		t.Error("expected the original error untouched")
	}
	got := ctxErr.Context()
	if got == nil {
		t.Fatal("expected context on the copy")
	}
	if got.Server != "svc" || got.Tool != "lookup" || got.Attempt != 2 {
		t.Errorf("unexpected context: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
	if ctxErr.Code() != base.Code() || ctxErr.Retryable() != base.Retryable() {
		t.Error("expected code and retryability preserved")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewPoolShutdownError()); got != CodePoolShutdown {
		t.Errorf("expected %d, got %d", CodePoolShutdown, got)
	}
	if got := CodeOf(NewAcquireTimeoutError(nil)); got != CodeAcquireTimeout {
		t.Errorf("expected %d, got %d", CodeAcquireTimeout, got)
	}
	if got := CodeOf(errors.New("plain")); got != 0 {
		t.Errorf("expected 0 for foreign errors, got %d", got)
	}
}

func TestCodeName(t *testing.T) {
	if got := CodeName(CodeCircuitOpen); got != "CircuitOpen" {
		t.Errorf("expected CircuitOpen, got %q", got)
	}
	if got := CodeName(-1); got != "Unknown" {
		t.Errorf("expected Unknown, got %q", got)
	}
}
