package rating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"beauty-rater/api/internal/capture"
)

// BeautyRating is returned exactly as the model produced it. Rating is
// nominally 1..10 but is not clamped.
type BeautyRating struct {
	Rating   float64 `json:"rating"`
	Title    string  `json:"title"`
	Analysis string  `json:"analysis"`
}

type Analyzer interface {
	Analyze(ctx context.Context, img capture.Image) (BeautyRating, error)
}

var (
	ErrInvalidResponse = errors.New("invalid API response")
	ErrEmptyResponse   = errors.New("empty API response")
)

const unknownFailure = "unable to analyze image due to an unknown error"

// AnalysisError is the only error Analyze returns.
type AnalysisError struct {
	Message string
	Err     error
}

func (e *AnalysisError) Error() string { return e.Message }

func (e *AnalysisError) Unwrap() error { return e.Err }

func newAnalysisError(err error) *AnalysisError {
	if err == nil {
		return &AnalysisError{Message: unknownFailure}
	}
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae
	}
	return &AnalysisError{Message: "unable to analyze image: " + err.Error(), Err: err}
}

// Message converts any analysis failure into the text shown to the user.
func Message(err error) string {
	return newAnalysisError(err).Message
}

// Decode parses the model's text payload. Every field must be present and of
// the declared type; a partial record is never returned.
func Decode(text string) (BeautyRating, error) {
	text = stripCodeFences(text)
	if text == "" {
		return BeautyRating{}, ErrEmptyResponse
	}

	var raw struct {
		Rating   *float64 `json:"rating"`
		Title    *string  `json:"title"`
		Analysis *string  `json:"analysis"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return BeautyRating{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if raw.Rating == nil || raw.Title == nil || raw.Analysis == nil {
		return BeautyRating{}, ErrInvalidResponse
	}
	return BeautyRating{Rating: *raw.Rating, Title: *raw.Title, Analysis: *raw.Analysis}, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
