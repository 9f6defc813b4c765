package nexuserr

import (
	"errors"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, 400},
		{KindNoActivePrompt, 400},
		{KindNotFound, 404},
		{KindConflict, 409},
		{KindToolNotAllowed, 403},
		{KindBudgetExceeded, 429},
		{KindTokenLimitExceeded, 429},
		{KindTurnLimitExceeded, 429},
		{KindRateLimitExceeded, 429},
		{KindProviderError, 502},
		{KindInternal, 500},
	}
	for _, tc := range cases {
		if got := tc.kind.HTTPStatus(); got != tc.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []Kind{KindBudgetExceeded, KindTokenLimitExceeded, KindTurnLimitExceeded, KindRateLimitExceeded, KindCancelled}
	for _, k := range terminal {
		if !k.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", k)
		}
	}
	nonTerminal := []Kind{KindToolInputValidation, KindApprovalDenied, KindValidation}
	for _, k := range nonTerminal {
		if k.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", k)
		}
	}
}

func TestIsMatchesByKind(t *testing.T) {
	err := New(KindApprovalDenied, "denied by reviewer")
	if !Is(err, KindApprovalDenied) {
		t.Fatal("expected Is to match on kind")
	}
	if Is(err, KindApprovalExpired) {
		t.Fatal("expected Is to not match a different kind")
	}

	wrapped := fmtWrap(err)
	if !Is(wrapped, KindApprovalDenied) {
		t.Fatal("expected Is to unwrap through fmt.Errorf-style wrapping")
	}
}

func fmtWrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func TestConflictRecordsReason(t *testing.T) {
	err := Conflict("APPROVAL_NOT_PENDING", "approval is already approved")
	if err.Kind != KindConflict {
		t.Fatalf("got kind %s, want CONFLICT", err.Kind)
	}
	if err.Details["reason"] != "APPROVAL_NOT_PENDING" {
		t.Fatalf("got details %v, want reason=APPROVAL_NOT_PENDING", err.Details)
	}
}

func TestKindOf(t *testing.T) {
	err := Wrap(KindProviderError, errors.New("timeout"), "provider call failed")
	kind, ok := KindOf(err)
	if !ok || kind != KindProviderError {
		t.Fatalf("KindOf() = (%s, %v), want (PROVIDER_ERROR, true)", kind, ok)
	}
	if _, ok := KindOf(errors.New("plain error")); ok {
		t.Fatal("expected KindOf to fail for a non-NexusError")
	}
}
