package flow

import (
	"beauty-rater/api/internal/capture"
	"beauty-rater/api/internal/rating"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCapturing
	PhaseAnalyzing
	PhaseResult
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCapturing:
		return "capturing"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseResult:
		return "result"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is one of Idle, Capturing, Analyzing, Result or Failed. Each variant
// carries only the fields that are valid in its phase.
type State interface {
	Phase() Phase
	isState()
}

// Idle may carry a one-off notice, e.g. that the camera could not be opened.
type Idle struct {
	Notice string
}

type Capturing struct{}

type Analyzing struct {
	Image capture.Image
}

type Result struct {
	Image  capture.Image
	Rating rating.BeautyRating
}

type Failed struct {
	Image   capture.Image
	Message string
}

func (Idle) Phase() Phase      { return PhaseIdle }
func (Capturing) Phase() Phase { return PhaseCapturing }
func (Analyzing) Phase() Phase { return PhaseAnalyzing }
func (Result) Phase() Phase    { return PhaseResult }
func (Failed) Phase() Phase    { return PhaseError }

func (Idle) isState()      {}
func (Capturing) isState() {}
func (Analyzing) isState() {}
func (Result) isState()    {}
func (Failed) isState()    {}

// ImageOf returns the captured image for the phases that hold one.
func ImageOf(s State) (capture.Image, bool) {
	switch v := s.(type) {
	case Analyzing:
		return v.Image, true
	case Result:
		return v.Image, true
	case Failed:
		return v.Image, true
	default:
		return capture.Image{}, false
	}
}
