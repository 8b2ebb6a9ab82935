package inference

import (
	"errors"
	"testing"
)

func TestVerdict(t *testing.T) {
	tests := []struct {
		name string
		pred *Prediction
		want string
	}{
		{name: "generated", pred: &Prediction{Label: 1, Numeric: true}, want: MessageAIGenerated},
		{name: "real", pred: &Prediction{Label: 0, Numeric: true}, want: MessageReal},
		{name: "other label", pred: &Prediction{Label: 2, Numeric: true}, want: MessageReal},
		{name: "non numeric", pred: &Prediction{Label: 1}, want: MessageReal},
		{name: "nil", pred: nil, want: MessageReal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verdict(tt.pred); got != tt.want {
				t.Fatalf("Verdict() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageOnError(t *testing.T) {
	got := Message(&Prediction{Label: 1, Numeric: true}, errors.New("connection refused"))
	if got != MessageBackendError {
		t.Fatalf("expected backend error message, got %q", got)
	}
}

func TestLabelFromNumber(t *testing.T) {
	if label, ok := LabelFromNumber(1); !ok || label != 1 {
		t.Fatalf("expected 1, got %d (ok=%t)", label, ok)
	}
	if _, ok := LabelFromNumber(0.7); ok {
		t.Fatal("expected fractional value to be rejected")
	}
}
