package cluster

import (
	"errors"
	"strings"
	"testing"
)

func TestNewErrTruncatesErrstr(t *testing.T) {
	long := strings.Repeat("x", maxErrStr*2)
	e := newErr(KindProtocol, nil, "%s", long)
	if len(e.Errstr()) != maxErrStr {
		t.Fatalf("Errstr() length = %d, want %d", len(e.Errstr()), maxErrStr)
	}
	if !strings.HasSuffix(e.Errstr(), "…") {
		t.Errorf("truncated message should end with an ellipsis marker, got %q", e.Errstr())
	}
}

func TestNewErrUnwrapsCause(t *testing.T) {
	cause := errors.New("underlying socket reset")
	e := newErr(KindIO, cause, "connect failed")
	if !errors.Is(e, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestErrErrorFallsBackToKindWhenNoMessage(t *testing.T) {
	e := &Err{Kind: KindUnreachable}
	if e.Error() != "UNREACHABLE" {
		t.Errorf("Error() = %q, want UNREACHABLE", e.Error())
	}
}

func TestKindStringCoversAllKinds(t *testing.T) {
	kinds := []Kind{
		KindNone, KindIO, KindProtocol, KindOutOfMemory, KindBadAddress,
		KindBadNode, KindTopologyStale, KindInconsistentTopology,
		KindUnreachable, KindTooManyRedirects, KindClusterDown,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		if s == "" {
			t.Errorf("Kind(%d).String() is empty", k)
		}
		seen[s] = true
	}
	if len(seen) != len(kinds) {
		t.Errorf("Kind.String() has collisions: %d distinct strings for %d kinds", len(seen), len(kinds))
	}
}
