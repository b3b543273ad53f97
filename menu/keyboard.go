package menu

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

const (
	callbackSep = "."

	replyPerRow        = 2
	inlineWidePerRow   = 5
	inlineNarrowPerRow = 4
	// Keyboards larger than this drop to the narrow inline layout.
	inlineWideMax = 5
)

// CallbackData encodes a press of buttonLabel on the screen's inline keyboard.
func CallbackData(screenLabel, buttonLabel string) string {
	return screenLabel + callbackSep + buttonLabel
}

// ParseCallbackData splits callback data at the first separator. Screen
// labels never contain the separator, so button labels may.
func ParseCallbackData(data string) (screenLabel, buttonLabel string, ok bool) {
	parts := strings.SplitN(data, callbackSep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ReplyKeyboard lays out menu buttons two per row on a reply keyboard
// resized to its content.
func ReplyKeyboard(buttons []Button) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	var rows []tele.Row
	for start := 0; start < len(buttons); start += replyPerRow {
		end := start + replyPerRow
		if end > len(buttons) {
			end = len(buttons)
		}
		row := make([]tele.Btn, 0, end-start)
		for _, b := range buttons[start:end] {
			row = append(row, markup.Text(b.Label))
		}
		rows = append(rows, markup.Row(row...))
	}
	markup.Reply(rows...)
	return markup
}

// InlineKeyboard lays out app message buttons five per row, dropping to
// four per row for keyboards with more than five buttons. Callback data
// carries the screen and button labels.
func InlineKeyboard(screenLabel string, buttons []Button) *tele.ReplyMarkup {
	perRow := inlineWidePerRow
	if len(buttons) > inlineWideMax {
		perRow = inlineNarrowPerRow
	}
	markup := &tele.ReplyMarkup{}
	var rows [][]tele.InlineButton
	for start := 0; start < len(buttons); start += perRow {
		end := start + perRow
		if end > len(buttons) {
			end = len(buttons)
		}
		row := make([]tele.InlineButton, 0, end-start)
		for _, b := range buttons[start:end] {
			row = append(row, tele.InlineButton{
				Text: b.Label,
				Data: CallbackData(screenLabel, b.Label),
			})
		}
		rows = append(rows, row)
	}
	markup.InlineKeyboard = rows
	return markup
}

// ButtonLabels returns the labels of a keyboard in order. Change detection
// compares these instead of the full buttons because actions are not
// comparable.
func ButtonLabels(buttons []Button) []string {
	if len(buttons) == 0 {
		return nil
	}
	labels := make([]string, len(buttons))
	for i, b := range buttons {
		labels[i] = b.Label
	}
	return labels
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
