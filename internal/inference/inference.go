package inference

import "context"

// Verdict strings shown to the user.
const (
	MessageAIGenerated  = "🧠 The image is AI generated"
	MessageReal         = "📷 The image is real"
	MessageBackendError = "Error connecting to backend"
)

// LabelGenerated is the backend label for a generated image.
const LabelGenerated = 1

// Image is the payload sent to the inference backend.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Prediction contains the outcome returned by the inference backend.
type Prediction struct {
	// Label is the numeric result flag. Only LabelGenerated has a meaning.
	Label int
	// Numeric is false when the backend's result field was missing or not a number.
	Numeric bool
}

// Generated reports whether the backend classified the image as generated.
func (p *Prediction) Generated() bool {
	return p != nil && p.Numeric && p.Label == LabelGenerated
}

// Predictor exposes the single call the check flow needs.
type Predictor interface {
	Predict(ctx context.Context, img Image) (*Prediction, error)
}

// Verdict maps a prediction to the message shown on the page.
func Verdict(p *Prediction) string {
	if p.Generated() {
		return MessageAIGenerated
	}
	return MessageReal
}

// Message maps the outcome of a Predict call to the message shown on the page.
func Message(p *Prediction, err error) string {
	if err != nil {
		return MessageBackendError
	}
	return Verdict(p)
}

// LabelFromNumber converts a decoded JSON/protobuf number to a label.
// Non-integral values never match a label.
func LabelFromNumber(v float64) (int, bool) {
	if v != float64(int(v)) {
		return 0, false
	}
	return int(v), true
}
