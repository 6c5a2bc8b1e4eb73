package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNew_ErrorString(t *testing.T) {
	err := New(Conflict, "path held")
	want := "Conflict: path held"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestWrap_ErrorStringIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(StoreUnavailable, "ping failed", cause)
	want := "StoreUnavailable: ping failed: connection refused"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err) {
		t.Fatal("error should equal itself")
	}
	if errors.Unwrap(err) != cause {
		t.Fatal("Unwrap should return the wrapped cause")
	}
}

func TestKindOf_RecognizesTaggedError(t *testing.T) {
	err := New(NotFound, "workflow missing")
	if KindOf(err) != NotFound {
		t.Fatalf("expected NotFound, got %v", KindOf(err))
	}
}

func TestKindOf_DefaultsToStoreUnavailable(t *testing.T) {
	if KindOf(errors.New("boom")) != StoreUnavailable {
		t.Fatal("expected an unrecognized error to default to StoreUnavailable")
	}
}

func TestKindOf_UnwrapsThroughFmtErrorf(t *testing.T) {
	inner := New(Validation, "bad input")
	wrapped := fmt.Errorf("submit: %w", inner)
	if KindOf(wrapped) != Validation {
		t.Fatalf("expected Validation through fmt.Errorf wrap, got %v", KindOf(wrapped))
	}
}

func TestHTTPStatus_Mapping(t *testing.T) {
	cases := map[Kind]int{
		Validation:       http.StatusBadRequest,
		Auth:             http.StatusUnauthorized,
		NotFound:         http.StatusNotFound,
		Conflict:         http.StatusConflict,
		LockExpired:      http.StatusConflict,
		ClaimExpired:     http.StatusConflict,
		StoreUnavailable: http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestIs(t *testing.T) {
	err := New(LockExpired, "lease gone")
	if !Is(err, LockExpired) {
		t.Fatal("expected Is to match LockExpired")
	}
	if Is(err, Conflict) {
		t.Fatal("expected Is to reject a mismatched kind")
	}
}
