// Package keyboard builds inline keyboards with raw callback payloads.
package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn describes an inline button carrying its callback data verbatim.
type InlineBtn struct {
	Text string
	Data string
}

const defaultCancelButtonText = "❌ Отмена"

// InlineButtons builds an inline keyboard where each button is placed on its own row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineBtn{b})
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn.
// Unique prefixes are not used; Data is delivered to Telegram unchanged.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, len(rows))
	for i, row := range rows {
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			r[j] = tele.InlineButton{Text: btn.Text, Data: btn.Data}
		}
		inline[i] = r
	}
	markup.InlineKeyboard = inline
	return markup
}

// InlineButtonsNPerRow splits a flat list of buttons into rows with up to n buttons per row.
// If n <= 1, it behaves like InlineButtons (one per row).
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	if n <= 1 {
		return InlineButtons(buttons)
	}
	var rows [][]InlineBtn
	for i := 0; i < len(buttons); i += n {
		end := i + n
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}
	return InlineButtonsRows(rows...)
}

// CancelButton returns the shared cancel button. Optional arguments override
// payload (first value) and label (second value).
func CancelButton(options ...string) InlineBtn {
	payload := "cancel"
	if len(options) > 0 && options[0] != "" {
		payload = options[0]
	}
	text := defaultCancelButtonText
	if len(options) > 1 && options[1] != "" {
		text = options[1]
	}
	return InlineBtn{Text: text, Data: payload}
}

// WithCancelRow appends a cancel button row to an existing markup.
func WithCancelRow(markup *tele.ReplyMarkup, options ...string) *tele.ReplyMarkup {
	if markup == nil {
		markup = &tele.ReplyMarkup{}
	}
	btn := CancelButton(options...)
	markup.InlineKeyboard = append(markup.InlineKeyboard, []tele.InlineButton{{Text: btn.Text, Data: btn.Data}})
	return markup
}

// SingleCancelMarkup creates an inline keyboard with a single cancel button.
func SingleCancelMarkup(options ...string) *tele.ReplyMarkup {
	return WithCancelRow(&tele.ReplyMarkup{}, options...)
}
