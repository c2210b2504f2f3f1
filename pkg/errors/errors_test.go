// errors_test.go — 验证 AppError / Wrap / Wrapf 的行为契约。
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// TestWrapUnwrap 验证 Wrap 保留原始错误链，errors.Is 和 errors.As 正常工作。
func TestWrapUnwrap(t *testing.T) {
	original := ErrNotFound
	wrapped := Wrap(original, "Registry.Lookup", "session not mapped")

	// errors.Is 能通过 Wrap 找到哨兵错误
	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("errors.Is(wrapped, ErrNotFound) = false, want true")
	}

	// errors.Is 对不相关错误返回 false
	if errors.Is(wrapped, ErrTimeout) {
		t.Errorf("errors.Is(wrapped, ErrTimeout) = true, want false")
	}

	// errors.As 能提取 AppError
	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "Registry.Lookup" {
		t.Errorf("Op = %q, want %q", appErr.Op, "Registry.Lookup")
	}
	if appErr.Message != "session not mapped" {
		t.Errorf("Message = %q, want %q", appErr.Message, "session not mapped")
	}
}

// TestWrapErrorString 验证 Error() 输出包含 op、message 和 cause。
func TestWrapErrorString(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	wrapped := Wrap(cause, "WSClient.Subscribe", "read failed")

	s := wrapped.Error()
	for _, want := range []string{"WSClient.Subscribe", "read failed", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

// TestWrapfFormat 验证 Wrapf 格式化消息。
func TestWrapfFormat(t *testing.T) {
	cause := ErrInvalidInput
	wrapped := Wrapf(cause, "Bridge.HandleIncoming", "chat %s rejected: %d", "oc_1", -1)

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed")
	}
	if !strings.Contains(appErr.Message, "chat oc_1 rejected: -1") {
		t.Errorf("Message = %q, want to contain 'chat oc_1 rejected: -1'", appErr.Message)
	}
}

// TestNewWithoutCause 验证 New 创建无 cause 的错误。
func TestNewWithoutCause(t *testing.T) {
	err := New("Bridge.Start", "already started")
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As failed")
	}
	if appErr.Err != nil {
		t.Errorf("Err = %v, want nil", appErr.Err)
	}
	// Unwrap 返回 nil
	if errors.Unwrap(err) != nil {
		t.Errorf("Unwrap = %v, want nil", errors.Unwrap(err))
	}
}
