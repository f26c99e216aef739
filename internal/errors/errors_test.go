package errors

import (
	"fmt"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "deadline" }
func (timeoutErr) Timeout() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eagain", syscall.EAGAIN, true},
		{"ebusy wrapped", fmt.Errorf("write record: %w", syscall.EBUSY), true},
		{"emfile", syscall.EMFILE, true},
		{"timeout", timeoutErr{}, true},
		{"enospc", syscall.ENOSPC, false},
		{"plain", fmt.Errorf("broken"), false},
		{"writer closed", ErrWriterClosed, false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("%s: IsTransient = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsCorrupt(t *testing.T) {
	if !IsCorrupt(fmt.Errorf("%w: truncated", ErrCorruptSnapshot)) {
		t.Error("wrapped corrupt snapshot not detected")
	}
	if !IsCorrupt(ErrCorruptRecord) || !IsCorrupt(ErrCorruptSeqState) {
		t.Error("corrupt sentinels not detected")
	}
	if IsCorrupt(ErrNotFound) {
		t.Error("lookup error misclassified as corrupt")
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("cache.capacity", "must be positive")
	if !Is(err, ErrInvalidConfig) {
		t.Errorf("validation error does not wrap ErrInvalidConfig: %v", err)
	}
}
