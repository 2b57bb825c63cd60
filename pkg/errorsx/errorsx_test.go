package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndKind(t *testing.T) {
	err := Wrap(assertErr{}, KindTelephony, SubsystemTelephony)
	if KindOf(err) != KindTelephony {
		t.Fatalf("expected kind %s, got %s", KindTelephony, KindOf(err))
	}
	if !HasKind(err, KindTelephony) {
		t.Fatalf("expected HasKind true")
	}
	if SubsystemOf(err) != SubsystemTelephony {
		t.Fatalf("expected subsystem %s, got %s", SubsystemTelephony, SubsystemOf(err))
	}
}

func TestWrapPreservesExistingKind(t *testing.T) {
	first := Provider("google", assertErr{})
	second := Wrap(first, KindStorage, SubsystemStore)
	if KindOf(second) != KindProvider {
		t.Fatalf("expected kind preserved, got %s", KindOf(second))
	}
}

func TestKindSurvivesFmtWrap(t *testing.T) {
	err := fmt.Errorf("initiate: %w", Telephony(assertErr{}))
	if KindOf(err) != KindTelephony {
		t.Fatalf("expected telephony kind through fmt wrap, got %s", KindOf(err))
	}
	var target assertErr
	if !errors.As(err, &target) {
		t.Fatalf("expected cause reachable via errors.As")
	}
}

func TestProviderKeepsUpstreamMessage(t *testing.T) {
	err := Provider("google", errors.New("quota exceeded"))
	if err.Error() != "google: quota exceeded" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if KindOf(nil) != KindUnknown {
		t.Fatalf("nil error should be unknown")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
