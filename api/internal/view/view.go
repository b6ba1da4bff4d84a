// Package view renders a flow state into what the user sees. Rendering is a
// pure function of the state.
package view

import (
	"fmt"
	"strings"

	"beauty-rater/api/internal/flow"
)

const (
	TierHigh = "high"
	TierMid  = "mid"
	TierLow  = "low"

	Disclaimer = "Disclaimer: this rating is generated by an AI purely for entertainment. Real beauty is subjective and cannot be measured."
)

type Page struct {
	Phase    string `json:"phase"`
	Heading  string `json:"heading"`
	Message  string `json:"message,omitempty"`
	Notice   string `json:"notice,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`

	Title string `json:"title,omitempty"`
	Score string `json:"score,omitempty"`
	Tier  string `json:"tier,omitempty"`

	CanStart   bool `json:"canStart"`
	CanCapture bool `json:"canCapture"`
	CanCancel  bool `json:"canCancel"`
	CanReset   bool `json:"canReset"`
	Busy       bool `json:"busy"`
}

// Tier buckets a score for colouring: >= 8 high, >= 5 mid, otherwise low.
func Tier(score float64) string {
	switch {
	case score >= 8:
		return TierHigh
	case score >= 5:
		return TierMid
	default:
		return TierLow
	}
}

func Score(score float64) string { return fmt.Sprintf("%.1f", score) }

func Render(s flow.State) Page {
	switch v := s.(type) {
	case flow.Capturing:
		return Page{
			Phase:      flow.PhaseCapturing.String(),
			Heading:    "Look into the camera",
			CanCapture: true,
			CanCancel:  true,
		}
	case flow.Analyzing:
		return Page{
			Phase:    flow.PhaseAnalyzing.String(),
			Heading:  "Analyzing your features...",
			ImageURL: v.Image.DataURL(),
			Busy:     true,
		}
	case flow.Result:
		return Page{
			Phase:    flow.PhaseResult.String(),
			Heading:  v.Rating.Title,
			Message:  v.Rating.Analysis,
			ImageURL: v.Image.DataURL(),
			Title:    v.Rating.Title,
			Score:    Score(v.Rating.Rating),
			Tier:     Tier(v.Rating.Rating),
			CanReset: true,
		}
	case flow.Failed:
		msg := v.Message
		if msg == "" {
			msg = "An unexpected error occurred."
		}
		return Page{
			Phase:    flow.PhaseError.String(),
			Heading:  "Oops! Something went wrong.",
			Message:  msg,
			CanReset: true,
		}
	case flow.Idle:
		p := idlePage()
		p.Notice = v.Notice
		return p
	default:
		return idlePage()
	}
}

func idlePage() Page {
	return Page{
		Phase:    flow.PhaseIdle.String(),
		Heading:  "AI Beauty Rater",
		Message:  "Curious what an AI thinks of your look? Use your camera to take a photo and get a rating from 1 to 10.",
		CanStart: true,
	}
}

// Text renders a page as a plain chat message.
func Text(s flow.State) string {
	p := Render(s)
	var b strings.Builder
	switch p.Phase {
	case flow.PhaseCapturing.String():
		b.WriteString("📸 Send me a selfie and I'll rate it. /cancel to stop.")
	case flow.PhaseAnalyzing.String():
		b.WriteString("✨ " + p.Heading)
	case flow.PhaseResult.String():
		fmt.Fprintf(&b, "%s %s / 10\n%s\n\n%s\n\n/reset to try again.", tierEmoji(p.Tier), p.Score, p.Title, p.Message)
	case flow.PhaseError.String():
		fmt.Fprintf(&b, "⚠️ %s\n%s\n\n/reset to try again.", p.Heading, p.Message)
	default:
		if p.Notice != "" {
			b.WriteString("⚠️ " + p.Notice + "\n\n")
		}
		fmt.Fprintf(&b, "%s\n%s\n\n/start to begin.", p.Heading, p.Message)
	}
	return b.String()
}

func tierEmoji(tier string) string {
	switch tier {
	case TierHigh:
		return "🟢"
	case TierMid:
		return "🟡"
	default:
		return "🔴"
	}
}
