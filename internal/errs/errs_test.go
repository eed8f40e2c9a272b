package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	NotFound,
	Timeout,
	FailedPrecondition,
	Unauthenticated,
	PermissionDenied,
	Unavailable,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
	if !Is(err, code) {
		t.Fatalf("Is(New, %q) = false", code)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testIs_FindsInnerCode(t *rapid.T) {
	inner := rapid.SampledFrom(allCodes).Draw(t, "inner")
	outer := rapid.SampledFrom(allCodes).Draw(t, "outer")

	err := Wrap(outer, "stage failed", fmt.Errorf("ctx: %w", New(inner, "cause")))
	if got := CodeOf(err); got != outer {
		t.Fatalf("CodeOf mismatch: got=%q want=%q", got, outer)
	}
	if !Is(err, inner) {
		t.Fatalf("Is(err, %q) = false for wrapped inner code", inner)
	}
}

func TestIs_FindsInnerCode(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testIs_FindsInnerCode)
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()

	untyped := errors.New("boom")
	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) = %q, want %q", got, Internal)
	}
	if got := MessageOf(untyped); got != "internal error" {
		t.Fatalf("MessageOf(untyped) = %q", got)
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) = %q", got)
	}
	if Is(untyped, Internal) {
		t.Fatal("Is(untyped) should be false")
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	t.Parallel()

	err := Wrap(Unavailable, "create instance", errors.New("connection refused"))
	if got, want := err.Error(), "create instance: connection refused"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestFromHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]Code{
		http.StatusBadRequest:          InvalidArgument,
		http.StatusUnauthorized:        Unauthenticated,
		http.StatusForbidden:           PermissionDenied,
		http.StatusNotFound:            NotFound,
		http.StatusConflict:            InvalidArgument,
		http.StatusTooManyRequests:     Unavailable,
		http.StatusBadGateway:          Unavailable,
		http.StatusGatewayTimeout:      Timeout,
		http.StatusTeapot:              Internal,
		http.StatusInternalServerError: Unavailable,
	}
	for status, want := range cases {
		if got := FromHTTPStatus(status); got != want {
			t.Errorf("FromHTTPStatus(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestExitCode_NonZeroForEveryCode(t *testing.T) {
	t.Parallel()
	for _, code := range allCodes {
		if ExitCode(code) == 0 {
			t.Errorf("ExitCode(%q) = 0", code)
		}
	}
}
