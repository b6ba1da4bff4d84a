package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"beauty-rater/api/internal/flow"
)

const (
	cbStart  = "start"
	cbCancel = "cancel"
	cbReset  = "reset"

	nothingToCancel = "Nothing to cancel."

	helpText = "Send /start, then a selfie, and an AI will rate it from 1 to 10. /cancel stops, /reset starts over."
)

func keyboardFor(p flow.Phase) (tgbotapi.InlineKeyboardMarkup, bool) {
	switch p {
	case flow.PhaseIdle:
		return oneButton("Take a photo", cbStart), true
	case flow.PhaseCapturing:
		return oneButton("Cancel", cbCancel), true
	case flow.PhaseResult, flow.PhaseError:
		return oneButton("Try again", cbReset), true
	default:
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
}

func oneButton(label, data string) tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData(label, data)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

func startRefusal(st flow.State) string {
	if st.Phase() == flow.PhaseAnalyzing {
		return "Still analyzing your last photo, hang on."
	}
	return "Can't start right now. /help"
}

func resetRefusal(st flow.State) string {
	switch st.Phase() {
	case flow.PhaseAnalyzing:
		return "Still analyzing your last photo, hang on."
	case flow.PhaseCapturing:
		return "Send a selfie or /cancel."
	default:
		return "Nothing to reset. /start to begin."
	}
}
