package runtimeerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify_SentinelsTakePriorityOverText(t *testing.T) {
	if got := Classify(ErrToolNotFound); got != CategoryToolNotFound {
		t.Fatalf("got %s, want %s", got, CategoryToolNotFound)
	}
	if got := Classify(fmt.Errorf("wrapped: %w", ErrAborted)); got != CategoryAbort {
		t.Fatalf("got %s, want %s", got, CategoryAbort)
	}
}

func TestClassify_TextHeuristics(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{errors.New("429 too many requests"), CategoryProviderRateLimit},
		{errors.New("401 unauthorized: invalid api key"), CategoryProviderAuth},
		{errors.New("dial tcp: connection refused"), CategoryProviderTransport},
		{errors.New("context_length_exceeded: maximum context is 200000 tokens"), CategoryTokenLimit},
		{errors.New("unknown tool requested"), CategoryToolNotFound},
		{errors.New("tool execution blocked by guardrail"), CategoryToolBlocked},
		{errors.New("summarizer returned empty result"), CategorySummarizerFailure},
		{errors.New("durable log append failed: disk full"), CategoryLogAppend},
		{errors.New("tool panicked"), CategoryToolExecution},
		{errors.New("something entirely unrelated"), CategoryUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.err.Error(), got, c.want)
		}
	}
}

func TestNew_ClassifiesWhenCategoryEmpty(t *testing.T) {
	re := New("", errors.New("rate limit exceeded"))
	if re.Category != CategoryProviderRateLimit {
		t.Fatalf("got %s, want %s", re.Category, CategoryProviderRateLimit)
	}
}

func TestRuntimeError_UnwrapAndAs(t *testing.T) {
	cause := errors.New("boom")
	re := New(CategoryToolExecution, cause)
	wrapped := fmt.Errorf("turn failed: %w", re)

	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to see through RuntimeError to its cause")
	}
	got, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find the RuntimeError")
	}
	if got.Category != CategoryToolExecution {
		t.Fatalf("got category %s", got.Category)
	}
}

func TestCategory_Recoverable(t *testing.T) {
	if !CategoryProviderTransport.Recoverable() {
		t.Error("expected PROVIDER_TRANSPORT to be recoverable")
	}
	if CategoryProviderAuth.Recoverable() {
		t.Error("expected PROVIDER_AUTH to be non-recoverable")
	}
	if CategoryAbort.Recoverable() {
		t.Error("expected ABORT to be non-recoverable")
	}
}

func TestRuntimeError_WithCodeAndMessage(t *testing.T) {
	re := New(CategoryProviderAuth, errors.New("401")).WithCode("invalid_api_key").WithMessage("credentials rejected")
	if re.Code != "invalid_api_key" {
		t.Errorf("got code %q", re.Code)
	}
	if re.Error() != "[PROVIDER_AUTH] credentials rejected" {
		t.Errorf("got error string %q", re.Error())
	}
}
