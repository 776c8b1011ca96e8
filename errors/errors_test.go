package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		message      string
		wantCategory ErrorCategory
	}{
		{"no_such_process", ErrCodeNoSuchProcess, "gone", CategoryAbsence},
		{"vanished", ErrCodeVanished, "gone mid-query", CategoryAbsence},
		{"zombie", ErrCodeZombie, "not reaped", CategoryAbsence},
		{"access_denied", ErrCodeAccessDenied, "EPERM", CategoryPermission},
		{"invalid_config", ErrCodeInvalidConfig, "bad interval", CategoryConfig},
		{"capability", ErrCodeCapabilityMissing, "no job objects", CategoryCapability},
		{"unsupported", ErrCodeUnsupported, "no SIGINT binding", CategoryCapability},
		{"internal", ErrCodeInternal, "boom", CategoryInternal},
		{"panic", ErrCodePanic, "panic", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Error() != tt.message {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.message)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestConstructorsCarryPID(t *testing.T) {
	tests := []struct {
		err  *Error
		code ErrorCode
	}{
		{NoSuchProcess(42), ErrCodeNoSuchProcess},
		{Vanished(42), ErrCodeVanished},
		{Zombie(42), ErrCodeZombie},
		{AccessDenied(42), ErrCodeAccessDenied},
	}
	for _, tt := range tests {
		if tt.err.PID() != 42 {
			t.Errorf("%s: PID() = %d, want 42", tt.code, tt.err.PID())
		}
		if tt.err.Code() != tt.code {
			t.Errorf("Code() = %s, want %s", tt.err.Code(), tt.code)
		}
	}
}

func TestSuppressible(t *testing.T) {
	if !CategoryAbsence.Suppressible() {
		t.Error("absence should be suppressible")
	}
	for _, c := range []ErrorCategory{CategoryPermission, CategoryConfig, CategoryCapability, CategoryInternal} {
		if c.Suppressible() {
			t.Errorf("%s should not be suppressible", c)
		}
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeZombie, WithPID(7))
	if err.Error() != "process is a zombie" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.PID() != 7 {
		t.Errorf("PID() = %d, want 7", err.PID())
	}
}

func TestMetadataImmutability(t *testing.T) {
	err := New(ErrCodeInternal, "x", WithMetadata("step", "batch"))
	md := err.Metadata()
	md["step"] = "changed"
	if err.Metadata()["step"] != "batch" {
		t.Error("Metadata() should return a copy")
	}
}

func TestWrap(t *testing.T) {
	base := NoSuchProcess(10)
	wrapped := Wrap(base, "terminating child")

	if wrapped.Code() != ErrCodeNoSuchProcess {
		t.Errorf("Code() = %v, want NO_SUCH_PROCESS", wrapped.Code())
	}
	if wrapped.PID() != 10 {
		t.Errorf("PID() = %d, want 10", wrapped.PID())
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}
	if !IsAbsent(fmt.Errorf("outer: %w", wrapped)) {
		t.Error("IsAbsent should see through fmt wrapping")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapWithCode(nil, ErrCodeInternal, "x") != nil {
		t.Error("WrapWithCode(nil) should return nil")
	}
}

func TestWrapContextErrors(t *testing.T) {
	if got := Wrap(context.DeadlineExceeded, "wait").Code(); got != ErrCodeTimeout {
		t.Errorf("deadline -> %v, want TIMEOUT", got)
	}
	if got := Wrap(context.Canceled, "wait").Code(); got != ErrCodeCanceled {
		t.Errorf("canceled -> %v, want CANCELED", got)
	}
	if got := Wrap(errors.New("plain"), "wait").Code(); got != ErrCodeInternal {
		t.Errorf("plain -> %v, want INTERNAL", got)
	}
}

func TestCategoryPredicates(t *testing.T) {
	if !IsPermission(AccessDenied(1)) {
		t.Error("IsPermission(AccessDenied) = false")
	}
	if !IsConfig(InvalidConfig("bad")) {
		t.Error("IsConfig(InvalidConfig) = false")
	}
	if !IsCapability(CapabilityMissing("no job")) {
		t.Error("IsCapability(CapabilityMissing) = false")
	}
	if !IsInternal(errors.New("plain")) {
		t.Error("plain errors count as internal")
	}
	if IsInternal(nil) {
		t.Error("nil is not internal")
	}
	if IsInternal(Zombie(3)) {
		t.Error("zombie is not internal")
	}
}

func TestCodeAndCategoryExtract(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Vanished(5))
	if Code(err) != ErrCodeVanished {
		t.Errorf("Code() = %v", Code(err))
	}
	if Category(err) != CategoryAbsence {
		t.Errorf("Category() = %v", Category(err))
	}
	if Code(errors.New("x")) != "" {
		t.Error("Code of plain error should be empty")
	}
}

func TestJSONRoundtrip(t *testing.T) {
	orig := AccessDenied(99, WithSignal("SIGTERM"), WithCause(errors.New("operation not permitted")))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Error
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.Code() != ErrCodeAccessDenied {
		t.Errorf("Code() = %v", decoded.Code())
	}
	if decoded.PID() != 99 {
		t.Errorf("PID() = %d", decoded.PID())
	}
	if decoded.Signal() != "SIGTERM" {
		t.Errorf("Signal() = %q", decoded.Signal())
	}
	if decoded.Unwrap() == nil || decoded.Unwrap().Error() != "operation not permitted" {
		t.Errorf("cause = %v", decoded.Unwrap())
	}
	if decoded.Timestamp().IsZero() {
		t.Error("timestamp lost in roundtrip")
	}
}

func TestCollect(t *testing.T) {
	errs := Collect(nil, errors.New("a"), nil, errors.New("b"))
	if len(errs) != 2 {
		t.Errorf("len = %d, want 2", len(errs))
	}
	if Join() != nil {
		t.Error("Join() of nothing should be nil")
	}
}
