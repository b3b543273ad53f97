package menu

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestCallbackDataRoundTrip(t *testing.T) {
	data := CallbackData("options", "Play")
	if data != "options.Play" {
		t.Fatalf("data = %q, want options.Play", data)
	}
	screen, button, ok := ParseCallbackData(data)
	if !ok || screen != "options" || button != "Play" {
		t.Fatalf("parsed (%q, %q, %v)", screen, button, ok)
	}
}

func TestParseCallbackDataKeepsButtonSeparators(t *testing.T) {
	// Button labels may contain the separator; screen labels may not.
	screen, button, ok := ParseCallbackData("options.v1.2")
	if !ok || screen != "options" || button != "v1.2" {
		t.Fatalf("parsed (%q, %q, %v)", screen, button, ok)
	}
}

func TestParseCallbackDataRejectsMalformed(t *testing.T) {
	for _, data := range []string{"", "nodot", ".button", "screen.", "."} {
		if _, _, ok := ParseCallbackData(data); ok {
			t.Errorf("ParseCallbackData(%q) accepted", data)
		}
	}
}

func TestReplyKeyboardLayout(t *testing.T) {
	target := staticScreen("next", "hi")
	buttons := []Button{
		Goto("One", target), Goto("Two", target), Goto("Three", target),
		Goto("Four", target), Goto("Five", target),
	}

	markup := ReplyKeyboard(buttons)
	if !markup.ResizeKeyboard {
		t.Error("reply keyboard should resize to content")
	}
	rows := markup.ReplyKeyboard
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i, want := range []int{2, 2, 1} {
		if len(rows[i]) != want {
			t.Errorf("row %d has %d buttons, want %d", i, len(rows[i]), want)
		}
	}
	if rows[0][0].Text != "One" || rows[2][0].Text != "Five" {
		t.Errorf("unexpected order: %+v", rows)
	}
}

func TestInlineKeyboardLayout(t *testing.T) {
	labels := []string{"A", "B", "C", "D", "E", "F"}
	buttons := make([]Button, 0, len(labels))
	for _, l := range labels {
		buttons = append(buttons, Notify(l, noopAction))
	}

	markup := InlineKeyboard("options", buttons[:5])
	rows := markup.InlineKeyboard
	if len(rows) != 1 || len(rows[0]) != 5 {
		t.Fatalf("five buttons: widths = %v, want [5]", rowWidths(rows))
	}
	if rows[0][2].Data != "options.C" {
		t.Errorf("data = %q, want options.C", rows[0][2].Data)
	}
	if rows[0][2].Text != "C" {
		t.Errorf("text = %q, want C", rows[0][2].Text)
	}

	markup = InlineKeyboard("options", buttons)
	rows = markup.InlineKeyboard
	if len(rows) != 2 || len(rows[0]) != 4 || len(rows[1]) != 2 {
		t.Fatalf("six buttons: widths = %v, want [4 2]", rowWidths(rows))
	}
}

func rowWidths(rows [][]tele.InlineButton) []int {
	widths := make([]int, len(rows))
	for i, row := range rows {
		widths[i] = len(row)
	}
	return widths
}

func TestButtonLabels(t *testing.T) {
	if got := ButtonLabels(nil); got != nil {
		t.Errorf("labels of empty keyboard = %v, want nil", got)
	}

	labels := ButtonLabels([]Button{Notify("A", noopAction), Notify("B", noopAction)})
	if !equalLabels(labels, []string{"A", "B"}) {
		t.Errorf("labels = %v, want [A B]", labels)
	}
	if equalLabels(labels, []string{"A"}) {
		t.Error("equalLabels matched lists of different length")
	}
	if equalLabels(labels, []string{"A", "C"}) {
		t.Error("equalLabels matched different lists")
	}
}
