package canarystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWithContext(t *testing.T) {
	err := WithContext(ErrNotFound, map[string]interface{}{
		"account": "prod-s3",
		"key":     "abc",
	})

	if !errors.Is(err, ErrNotFound) {
		t.Error("WithContext should preserve the wrapped sentinel")
	}
	if got, want := err.Error(), "object not found [account=prod-s3 key=abc]"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if WithContext(nil, nil) != nil {
		t.Error("WithContext(nil) should be nil")
	}
	if got := WithContext(ErrNotFound, nil).Error(); got != ErrNotFound.Error() {
		t.Errorf("empty context should not decorate the message, got %q", got)
	}
}

func TestTypedErrors(t *testing.T) {
	res := &ResolutionError{Kind: "storage", Account: "weird"}
	if !errors.Is(res, ErrResolution) {
		t.Error("ResolutionError should unwrap to ErrResolution")
	}
	if res.Error() != "unable to resolve storage service weird" {
		t.Errorf("unexpected message %q", res.Error())
	}

	dup := &DuplicateNameError{Name: "latency", Applications: []string{"app1", "app2"}, ExistingID: "x"}
	if !errors.Is(dup, ErrDuplicateName) {
		t.Error("DuplicateNameError should unwrap to ErrDuplicateName")
	}
	var target *DuplicateNameError
	if !errors.As(fmt.Errorf("store: %w", dup), &target) || target.ExistingID != "x" {
		t.Error("errors.As should reach DuplicateNameError through wrapping")
	}
	if !strings.Contains(dup.Error(), "[app1, app2]") {
		t.Errorf("message should list applications, got %q", dup.Error())
	}
}

func TestWrapBackendFault(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapBackendFault("get", cause)

	if !errors.Is(err, ErrBackendFault) {
		t.Error("expected ErrBackendFault")
	}
	if !errors.Is(err, cause) {
		t.Error("the original cause must stay reachable")
	}
	if wrapBackendFault("get", nil) != nil {
		t.Error("nil should stay nil")
	}
	if got := wrapBackendFault("get", ErrNotFound); got != ErrNotFound {
		t.Errorf("not found should pass through unchanged, got %v", got)
	}
	if got := wrapBackendFault("outer", err); got != err {
		t.Error("an already wrapped fault should not be wrapped twice")
	}
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		badInput  bool
		upstream  bool
		retryable bool
		permanent bool
	}{
		{"not found", ErrNotFound, true, false, false, false, true},
		{"duplicate", &DuplicateNameError{Name: "n"}, false, true, false, false, true},
		{"ambiguous", ErrAmbiguousMatch, false, true, false, false, true},
		{"resolution", &ResolutionError{Kind: "metrics"}, false, true, false, false, false},
		{"invalid config", ErrInvalidConfig, false, true, false, false, true},
		{"deserialize", ErrDeserialize, false, false, false, false, true},
		{"backend fault", wrapBackendFault("put", errors.New("boom")), false, false, true, false, false},
		{"unavailable", ErrBackendUnavailable, false, false, true, true, false},
		{"exhausted", fmt.Errorf("%w: 503", ErrRetryExhausted), false, false, true, false, false},
		{"retryable query", ErrRetryableQuery, false, false, false, true, false},
		{"lock held", ErrLockHeld, false, false, false, true, false},
		{"cancelled", context.Canceled, false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsBadInput(tt.err); got != tt.badInput {
				t.Errorf("IsBadInput = %v, want %v", got, tt.badInput)
			}
			if got := IsUpstreamUnavailable(tt.err); got != tt.upstream {
				t.Errorf("IsUpstreamUnavailable = %v, want %v", got, tt.upstream)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v", got, tt.permanent)
			}
		})
	}
}
