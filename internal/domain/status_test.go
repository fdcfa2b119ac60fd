package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStatus_LinearPath(t *testing.T) {
	path := []Status{StatusUploading, StatusProcessing, StatusChunking, StatusEmbedding, StatusReady}
	for i := 0; i < len(path)-1; i++ {
		if !path[i].CanTransition(path[i+1]) {
			t.Errorf("%s -> %s should be allowed", path[i], path[i+1])
		}
		if path[i].Next() != path[i+1] {
			t.Errorf("%s.Next() = %s, want %s", path[i], path[i].Next(), path[i+1])
		}
	}
}

func TestStatus_SkipsAndBackwardsRejected(t *testing.T) {
	cases := [][2]Status{
		{StatusUploading, StatusChunking},
		{StatusUploading, StatusReady},
		{StatusChunking, StatusProcessing},
		{StatusEmbedding, StatusUploading},
		{StatusProcessing, StatusProcessing},
	}
	for _, c := range cases {
		if c[0].CanTransition(c[1]) {
			t.Errorf("%s -> %s should be rejected", c[0], c[1])
		}
	}
}

func TestStatus_ErrorReachableFromNonTerminal(t *testing.T) {
	for _, s := range AllStatuses() {
		got := s.CanTransition(StatusError)
		if got == s.Terminal() {
			t.Errorf("%s -> error allowed=%v, terminal=%v", s, got, s.Terminal())
		}
	}
}

func TestStatus_TerminalIsAbsorbing(t *testing.T) {
	for _, from := range []Status{StatusReady, StatusError} {
		for _, to := range AllStatuses() {
			if from.CanTransition(to) {
				t.Errorf("%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestStatus_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(StatusChunking)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"chunking"` {
		t.Fatalf("got %s", data)
	}

	var s Status
	if err := json.Unmarshal([]byte(`"embedding"`), &s); err != nil {
		t.Fatal(err)
	}
	if s != StatusEmbedding {
		t.Errorf("got %s", s)
	}
	if err := json.Unmarshal([]byte(`"archived"`), &s); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := json.Marshal(StatusUnknown); err == nil {
		t.Error("expected error marshalling the zero status")
	}
}

func TestStatus_LabelsCoverEveryStatus(t *testing.T) {
	seen := make(map[string]bool)
	for _, s := range AllStatuses() {
		if s.Label() == "" || s.Label() == StatusUnknown.Label() {
			t.Errorf("%s has no label", s)
		}
		if seen[s.Label()] {
			t.Errorf("duplicate label %q", s.Label())
		}
		seen[s.Label()] = true
	}
}

func TestTransitionError_Unwraps(t *testing.T) {
	err := error(&TransitionError{ID: "x", From: StatusReady, To: StatusChunking})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("TransitionError should match ErrInvalidTransition")
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != StatusReady {
		t.Errorf("errors.As failed: %v", te)
	}
}
