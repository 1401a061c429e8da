package errors

import (
	"fmt"
	"testing"
)

func TestSentinelIdentity(t *testing.T) {
	wrapped := Wrap(ErrPasswordIncorrect, "header trial")
	if !Is(wrapped, ErrPasswordIncorrect) {
		t.Error("wrapped sentinel lost its identity")
	}
	if Is(wrapped, ErrHeaderCorrupt) {
		t.Error("password error must never match HeaderCorrupt")
	}
}

func TestSystemError(t *testing.T) {
	underlying := fmt.Errorf("read: input/output error")
	err := NewSystemError("/dev/sdb", 5, underlying)

	var sysErr *SystemError
	if !As(err, &sysErr) {
		t.Fatal("As failed for SystemError")
	}
	if sysErr.Code != 5 || sysErr.Subject != "/dev/sdb" {
		t.Errorf("Code=%d Subject=%q", sysErr.Code, sysErr.Subject)
	}
	if !Is(err, underlying) {
		t.Error("SystemError must unwrap to the underlying error")
	}
}

func TestValidationErrorIsParameterIncorrect(t *testing.T) {
	err := NewValidationError("size", "must be positive")
	if !Is(err, ErrParameterIncorrect) {
		t.Error("ValidationError must unwrap to ErrParameterIncorrect")
	}
}

func TestIsPasswordError(t *testing.T) {
	for _, err := range []error{
		ErrPasswordIncorrect,
		ErrPasswordKeyfilesIncorrect,
		ErrProtectionPasswordIncorrect,
	} {
		if !IsPasswordError(err) {
			t.Errorf("IsPasswordError(%v) = false", err)
		}
	}
	if IsPasswordError(ErrHeaderCorrupt) {
		t.Error("HeaderCorrupt must not be a password error")
	}
}

func TestWireNameRoundTrip(t *testing.T) {
	for name, sentinel := range Sentinels() {
		if got := WireName(sentinel); got != name {
			t.Errorf("WireName(%s sentinel) = %q", name, got)
		}
	}
	if WireName(New("ad hoc")) != "" {
		t.Error("ad hoc errors must have no wire name")
	}
}

func TestIsUserAbort(t *testing.T) {
	if !IsUserAbort(Wrap(ErrUserAbort, "creation")) {
		t.Error("wrapped UserAbort not recognized")
	}
	if IsUserAbort(ErrTestFailed) {
		t.Error("TestFailed misdetected as UserAbort")
	}
}
