package menu

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/telemenu/core/storage"
	"github.com/m3rciful/telemenu/core/storage/memory"
)

// mockCall is one recorded transport call.
type mockCall struct {
	op        string
	chatID    int64
	messageID int
	text      string
	labels    []string
	inline    bool
	silent    bool
	callback  string
	path      string
	action    string
}

// mockMessenger records transport calls and fails on demand. Sends and
// photos are recorded only when delivered, so their counts mean deliveries;
// edits, deletes, answers, and chat actions record every attempt.
type mockMessenger struct {
	mu     sync.Mutex
	calls  []mockCall
	nextID int

	sendErr   error
	editErr   error
	deleteErr error
	photoErr  error
	failChats map[int64]bool
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{nextID: 100}
}

func (m *mockMessenger) SendMessage(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup, silent bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	if m.failChats[chatID] {
		return 0, errors.New("chat unreachable")
	}
	m.nextID++
	labels, inline := markupLabels(markup)
	m.calls = append(m.calls, mockCall{
		op: "send", chatID: chatID, messageID: m.nextID,
		text: text, labels: labels, inline: inline, silent: silent,
	})
	return m.nextID, nil
}

func (m *mockMessenger) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tele.ReplyMarkup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	labels, inline := markupLabels(markup)
	m.calls = append(m.calls, mockCall{
		op: "edit", chatID: chatID, messageID: messageID,
		text: text, labels: labels, inline: inline,
	})
	return m.editErr
}

func (m *mockMessenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{op: "delete", chatID: chatID, messageID: messageID})
	return m.deleteErr
}

func (m *mockMessenger) SendPhoto(ctx context.Context, chatID int64, path, caption string, silent bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.photoErr != nil {
		return 0, m.photoErr
	}
	if m.failChats[chatID] {
		return 0, errors.New("chat unreachable")
	}
	m.nextID++
	m.calls = append(m.calls, mockCall{
		op: "photo", chatID: chatID, messageID: m.nextID,
		path: path, text: caption, silent: silent,
	})
	return m.nextID, nil
}

func (m *mockMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{op: "answer", callback: callbackID, text: text})
	return nil
}

func (m *mockMessenger) ChatAction(ctx context.Context, chatID int64, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{op: "action", chatID: chatID, action: action})
	return nil
}

func (m *mockMessenger) callsOf(op string) []mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockCall
	for _, c := range m.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockMessenger) lastOf(op string) (mockCall, bool) {
	calls := m.callsOf(op)
	if len(calls) == 0 {
		return mockCall{}, false
	}
	return calls[len(calls)-1], true
}

func (m *mockMessenger) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func markupLabels(markup *tele.ReplyMarkup) (labels []string, inline bool) {
	if markup == nil {
		return nil, false
	}
	if len(markup.InlineKeyboard) > 0 {
		for _, row := range markup.InlineKeyboard {
			for _, b := range row {
				labels = append(labels, b.Text)
			}
		}
		return labels, true
	}
	for _, row := range markup.ReplyKeyboard {
		for _, b := range row {
			labels = append(labels, b.Text)
		}
	}
	return labels, false
}

func mustGoto(t *testing.T, nav *Navigator, s *Screen) int {
	t.Helper()
	id, err := nav.GotoMenu(context.Background(), s)
	if err != nil {
		t.Fatalf("GotoMenu(%s): %v", s.Label, err)
	}
	return id
}

func writePicture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("png"), 0o600); err != nil {
		t.Fatalf("write picture: %v", err)
	}
	return path
}

func TestGotoMenuPushesStack(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	second := staticScreen("second", "Second message", Back(), Home())
	home := staticScreen("start", "Start message!", Goto("Second menu", second))
	nav := newNavigator(1, mock, nil, Options{})

	id, err := nav.GotoMenu(ctx, home)
	if err != nil {
		t.Fatalf("GotoMenu: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a message id")
	}
	send, ok := mock.lastOf("send")
	if !ok {
		t.Fatal("no message sent")
	}
	if send.text != "Start message!" || send.inline {
		t.Errorf("send = %+v, want reply-keyboard home message", send)
	}
	if !equalLabels(send.labels, []string{"Second menu"}) {
		t.Errorf("keyboard = %v, want [Second menu]", send.labels)
	}

	mustGoto(t, nav, second)
	if got := nav.StackLabels(); !equalLabels(got, []string{"start", "second"}) {
		t.Errorf("stack = %v, want [start second]", got)
	}
}

func TestBackWalksTheStack(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	third := staticScreen("third", "Third", Back())
	second := staticScreen("second", "Second", Goto("Deeper", third), Back())
	home := staticScreen("start", "Start", Goto("Second menu", second))
	nav := newNavigator(1, mock, nil, Options{})

	mustGoto(t, nav, home)
	mustGoto(t, nav, second)
	mustGoto(t, nav, third)

	if _, err := nav.Back(ctx); err != nil {
		t.Fatalf("Back: %v", err)
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start", "second"}) {
		t.Errorf("stack after back = %v, want [start second]", got)
	}
	send, _ := mock.lastOf("send")
	if send.text != "Second" {
		t.Errorf("back resent %q, want the second menu", send.text)
	}

	if _, err := nav.Back(ctx); err != nil {
		t.Fatalf("Back: %v", err)
	}

	// At the home menu Back resends home instead of failing.
	if _, err := nav.Back(ctx); err != nil {
		t.Fatalf("Back at home: %v", err)
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start"}) {
		t.Errorf("stack = %v, want [start]", got)
	}
	send, _ = mock.lastOf("send")
	if send.text != "Start" {
		t.Errorf("back at home resent %q, want the home menu", send.text)
	}
}

func TestGotoHomeUnwindsStack(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	third := staticScreen("third", "Third", Home())
	second := staticScreen("second", "Second", Goto("Deeper", third))
	home := staticScreen("start", "Start", Goto("Second menu", second))
	nav := newNavigator(1, mock, nil, Options{})

	mustGoto(t, nav, home)
	mustGoto(t, nav, second)
	mustGoto(t, nav, third)

	if _, err := nav.GotoHome(ctx); err != nil {
		t.Fatalf("GotoHome: %v", err)
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start"}) {
		t.Errorf("stack = %v, want [start]", got)
	}
	send, _ := mock.lastOf("send")
	if send.text != "Start" {
		t.Errorf("home resent %q, want the home menu", send.text)
	}
}

func TestSelectButtonSearchesNewestFirst(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	fromSecond := staticScreen("from_second", "via second")
	fromHome := staticScreen("from_home", "via home")
	second := staticScreen("second", "Second", Goto("Shared", fromSecond), Back())
	home := staticScreen("start", "Start", Goto("Second menu", second), Goto("Shared", fromHome))
	nav := newNavigator(1, mock, nil, Options{})

	mustGoto(t, nav, home)
	mustGoto(t, nav, second)

	if _, err := nav.SelectButton(ctx, "Shared"); err != nil {
		t.Fatalf("SelectButton: %v", err)
	}
	got := nav.StackLabels()
	if got[len(got)-1] != "from_second" {
		t.Errorf("stack = %v, want the newest menu's target on top", got)
	}
}

func TestSelectButtonFallsBackDownTheStack(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	settings := staticScreen("settings", "Settings")
	second := staticScreen("second", "Second", Back())
	home := staticScreen("start", "Start", Goto("Second menu", second), Goto("Settings", settings))
	nav := newNavigator(1, mock, nil, Options{})

	mustGoto(t, nav, home)
	mustGoto(t, nav, second)

	if _, err := nav.SelectButton(ctx, "Settings"); err != nil {
		t.Fatalf("SelectButton: %v", err)
	}
	got := nav.StackLabels()
	if got[len(got)-1] != "settings" {
		t.Errorf("stack = %v, want settings on top", got)
	}
}

func TestSelectButtonReservedLabels(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	second := staticScreen("second", "Second", Back(), Home())
	home := staticScreen("start", "Start", Goto("Second menu", second))
	nav := newNavigator(1, mock, nil, Options{})

	mustGoto(t, nav, home)
	mustGoto(t, nav, second)
	if _, err := nav.SelectButton(ctx, BackLabel); err != nil {
		t.Fatalf("SelectButton(Back): %v", err)
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start"}) {
		t.Errorf("stack after Back = %v", got)
	}

	mustGoto(t, nav, second)
	if _, err := nav.SelectButton(ctx, HomeLabel); err != nil {
		t.Fatalf("SelectButton(Home): %v", err)
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start"}) {
		t.Errorf("stack after Home = %v", got)
	}

	if _, err := nav.SelectButton(ctx, "No such button"); !errors.Is(err, ErrButtonNotFound) {
		t.Errorf("unknown label: err = %v, want ErrButtonNotFound", err)
	}
}

func TestSelectButtonAmbiguousLabel(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	home := staticScreen("start", "Start", Notify("Dup", noopAction), Notify("Dup", noopAction))
	nav := newNavigator(1, mock, nil, Options{})

	mustGoto(t, nav, home)
	if _, err := nav.SelectButton(ctx, "Dup"); !errors.Is(err, ErrAmbiguousLabel) {
		t.Fatalf("err = %v, want ErrAmbiguousLabel", err)
	}
}

func TestSelectButtonDeliversActionResults(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	home := staticScreen("start", "Start",
		Notify("Quiet", func(ctx context.Context) (string, error) { return "", nil }),
		Notify("Loud", func(ctx context.Context) (string, error) { return "done", nil }),
	)
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	before := len(mock.callsOf("send"))

	id, err := nav.SelectButton(ctx, "Quiet")
	if err != nil {
		t.Fatalf("SelectButton(Quiet): %v", err)
	}
	if id != 0 || len(mock.callsOf("send")) != before {
		t.Error("empty result should send nothing")
	}

	if _, err := nav.SelectButton(ctx, "Loud"); err != nil {
		t.Fatalf("SelectButton(Loud): %v", err)
	}
	send, _ := mock.lastOf("send")
	if send.text != "done" || send.labels != nil {
		t.Errorf("result message = %+v, want plain text", send)
	}
}

func TestSelectButtonActionError(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	boom := errors.New("boom")
	home := staticScreen("start", "Start",
		Notify("Break", func(ctx context.Context) (string, error) { return "", boom }))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)

	if _, err := nav.SelectButton(ctx, "Break"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

// The action does an unguarded read-sleep-write; only the per-chat lock
// holding each press to completion keeps the final count intact.
func TestSelectButtonSerializesPresses(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	counter := 0
	bump := func(ctx context.Context) (string, error) {
		n := counter
		time.Sleep(2 * time.Millisecond)
		counter = n + 1
		return "", nil
	}
	home := staticScreen("start", "Start", Notify("Bump", bump))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)

	const presses = 8
	var wg sync.WaitGroup
	for i := 0; i < presses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := nav.SelectButton(ctx, "Bump"); err != nil {
				t.Errorf("SelectButton: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != presses {
		t.Errorf("counter = %d after %d presses, presses interleaved", counter, presses)
	}
}

func TestInlineScreenOpensAppMessage(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	options := inlineScreen("options", "Status", Notify("Play", noopAction), Notify("Stop", noopAction))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)

	id, err := nav.GotoMenu(ctx, options)
	if err != nil {
		t.Fatalf("GotoMenu: %v", err)
	}
	if nav.LiveCount() != 1 {
		t.Fatalf("live = %d, want 1", nav.LiveCount())
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start"}) {
		t.Errorf("inline screen changed the menu stack: %v", got)
	}
	send, _ := mock.lastOf("send")
	if !send.inline || send.messageID != id {
		t.Errorf("send = %+v, want inline message %d", send, id)
	}
	if !equalLabels(send.labels, []string{"Play", "Stop"}) {
		t.Errorf("keyboard = %v, want [Play Stop]", send.labels)
	}
}

func TestReopeningAppMessageReplacesIt(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	options := inlineScreen("options", "Status", Notify("Play", noopAction))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)

	first, err := nav.GotoMenu(ctx, options)
	if err != nil {
		t.Fatalf("GotoMenu: %v", err)
	}
	second, err := nav.GotoMenu(ctx, options)
	if err != nil {
		t.Fatalf("GotoMenu: %v", err)
	}
	if second == first {
		t.Error("expected a fresh message id")
	}
	if nav.LiveCount() != 1 {
		t.Fatalf("live = %d, want 1", nav.LiveCount())
	}
	del, ok := mock.lastOf("delete")
	if !ok || del.messageID != first {
		t.Errorf("delete = %+v, want old app message %d", del, first)
	}
}

func TestHomeAfterReturnsToHome(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	action := inlineScreen("action", "<code>Action!</code>")
	action.HomeAfter = true
	action.Expiry = 5 * time.Second
	second := staticScreen("second", "Second", Goto("Action", action), Back())
	home := staticScreen("start", "Start", Goto("Second menu", second))
	nav := newNavigator(1, mock, nil, Options{})

	mustGoto(t, nav, home)
	mustGoto(t, nav, second)
	if _, err := nav.GotoMenu(ctx, action); err != nil {
		t.Fatalf("GotoMenu: %v", err)
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start"}) {
		t.Errorf("stack = %v, want [start] after the inline send", got)
	}
	if nav.LiveCount() != 1 {
		t.Errorf("live = %d, want the action message alive", nav.LiveCount())
	}
	send, _ := mock.lastOf("send")
	if send.text != "Start" {
		t.Errorf("last send %q, want the home menu", send.text)
	}
}

func TestHandleCallbackNotifyAnswersWithResult(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	options := inlineScreen("options", "Status",
		Notify("Play", func(ctx context.Context) (string, error) { return "option selected!", nil }))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Play", MessageID: id}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	answer, ok := mock.lastOf("answer")
	if !ok || answer.callback != "cb1" || answer.text != "option selected!" {
		t.Errorf("answer = %+v, want the popup text", answer)
	}
	if len(mock.callsOf("edit")) != 0 {
		t.Error("unchanged app message should not be edited")
	}
	if len(mock.callsOf("action")) != 0 {
		t.Error("notify buttons show no chat action")
	}
}

func TestHandleCallbackMessageSendsResult(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	options := inlineScreen("options", "Status",
		Post("Door", func(ctx context.Context) (string, error) { return "<b>opened</b>", nil }),
		Post("Void", func(ctx context.Context) (string, error) { return "", nil }),
	)
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Door", MessageID: id}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	action, ok := mock.lastOf("action")
	if !ok || action.action != ActionTyping {
		t.Errorf("chat action = %+v, want typing", action)
	}
	send, _ := mock.lastOf("send")
	if send.text != "<b>opened</b>" {
		t.Errorf("send = %+v, want the action result", send)
	}
	answer, _ := mock.lastOf("answer")
	if answer.text != "Message sent!" {
		t.Errorf("answer = %q, want Message sent!", answer.text)
	}

	before := len(mock.callsOf("send"))
	if err := nav.HandleCallback(ctx, Callback{ID: "cb2", Data: "options.Void", MessageID: id}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if len(mock.callsOf("send")) != before {
		t.Error("empty result should send nothing")
	}
	answer, _ = mock.lastOf("answer")
	if answer.text != "Message sent!" {
		t.Errorf("answer = %q, want Message sent!", answer.text)
	}
}

func TestHandleCallbackPictureSendsPhoto(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	pic := writePicture(t, "stats.png")
	options := inlineScreen("options", "Status",
		Photo("Chart", func(ctx context.Context) (string, error) { return pic, nil }))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Chart", MessageID: id}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	action, ok := mock.lastOf("action")
	if !ok || action.action != ActionUploadPhoto {
		t.Errorf("chat action = %+v, want upload_photo", action)
	}
	photo, ok := mock.lastOf("photo")
	if !ok || photo.path != pic {
		t.Errorf("photo = %+v, want %s", photo, pic)
	}
	answer, _ := mock.lastOf("answer")
	if answer.text != "Picture sent!" {
		t.Errorf("answer = %q, want Picture sent!", answer.text)
	}
}

func TestHandleCallbackPictureFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	fallback := writePicture(t, "default.png")
	options := inlineScreen("options", "Status",
		Photo("Chart", func(ctx context.Context) (string, error) { return "", nil }))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{DefaultPicture: fallback})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Chart", MessageID: id}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	photo, ok := mock.lastOf("photo")
	if !ok || photo.path != fallback {
		t.Errorf("photo = %+v, want the default picture", photo)
	}
}

func TestHandleCallbackPictureWithoutFallbackFails(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	options := inlineScreen("options", "Status",
		Photo("Chart", func(ctx context.Context) (string, error) { return "", nil }))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Chart", MessageID: id}); err == nil {
		t.Fatal("expected error without a picture to send")
	}
	answer, _ := mock.lastOf("answer")
	if answer.text != "Action failed" {
		t.Errorf("answer = %q, want Action failed", answer.text)
	}
}

func TestHandleCallbackTargetOpensScreen(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	settings := staticScreen("settings", "Settings", Back())
	options := inlineScreen("options", "Status", Goto("Open", settings))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Open", MessageID: id}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start", "settings"}) {
		t.Errorf("stack = %v, want [start settings]", got)
	}
	answer, ok := mock.lastOf("answer")
	if !ok || answer.text != "" {
		t.Errorf("answer = %+v, want the bare spinner resolution", answer)
	}
}

func TestHandleCallbackUnknownData(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	options := inlineScreen("options", "Status", Notify("Play", noopAction))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	cases := []struct {
		name string
		data string
		want error
	}{
		{"malformed", "nodot", ErrBadCallbackData},
		{"unknown screen", "ghost.Play", ErrScreenNotFound},
		{"unknown button", "options.Ghost", ErrButtonNotFound},
	}
	for _, tc := range cases {
		err := nav.HandleCallback(ctx, Callback{ID: "cb", Data: tc.data, MessageID: id})
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
		answer, ok := mock.lastOf("answer")
		if !ok || answer.text != "Unknown action" {
			t.Errorf("%s: answer = %+v, want Unknown action", tc.name, answer)
		}
	}
}

func TestHandleCallbackActionError(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	boom := errors.New("boom")
	options := inlineScreen("options", "Status",
		Notify("Break", func(ctx context.Context) (string, error) { return "", boom }))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Break", MessageID: id}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	answer, _ := mock.lastOf("answer")
	if answer.text != "Action failed" {
		t.Errorf("answer = %q, want Action failed", answer.text)
	}
}

func TestHandleCallbackEditsChangedMessage(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	playing := true
	options := &Screen{
		Label:  "options",
		Inline: true,
		Update: func(ctx context.Context) (string, []Button, error) {
			label := "Pause"
			if !playing {
				label = "Play"
			}
			toggle := func(ctx context.Context) (string, error) {
				playing = !playing
				return "toggled", nil
			}
			return "Now: " + label, []Button{Notify(label, toggle)}, nil
		},
	}
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Pause", MessageID: id}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	edit, ok := mock.lastOf("edit")
	if !ok {
		t.Fatal("changed app message was not edited")
	}
	if edit.messageID != id {
		t.Errorf("edited %d, want the pressed message %d", edit.messageID, id)
	}
	if edit.text != "Now: Play" || !equalLabels(edit.labels, []string{"Play"}) {
		t.Errorf("edit = %+v, want the toggled rendering", edit)
	}

	// The delivered rendering was adopted, so an identical refresh is a no-op.
	changed, err := nav.Refresh(ctx, options)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if changed || len(mock.callsOf("edit")) != 1 {
		t.Error("identical rendering should not be edited again")
	}
}

func TestHandleCallbackEditsPressedMessageID(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	presses := 0
	options := &Screen{
		Label:  "options",
		Inline: true,
		Update: func(ctx context.Context) (string, []Button, error) {
			tick := func(ctx context.Context) (string, error) {
				presses++
				return "", nil
			}
			return "Presses: " + strconv.Itoa(presses), []Button{Notify("Tick", tick)}, nil
		},
	}
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	mustGoto(t, nav, options)

	// Presses carry the id of the message the keyboard is attached to; the
	// edit follows that id.
	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Tick", MessageID: 777}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	edit, ok := mock.lastOf("edit")
	if !ok || edit.messageID != 777 {
		t.Errorf("edit = %+v, want the pressed message 777", edit)
	}
}

func TestRefreshWithoutLiveMessage(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	options := inlineScreen("options", "Status", Notify("Play", noopAction))
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)

	changed, err := nav.Refresh(ctx, options)
	if err != nil || changed {
		t.Fatalf("Refresh = (%v, %v), want a no-op", changed, err)
	}
	if _, err := nav.Refresh(ctx, nil); !errors.Is(err, ErrScreenNotFound) {
		t.Errorf("nil screen: err = %v, want ErrScreenNotFound", err)
	}
}

func TestRefreshEditsOnChange(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	body := "one"
	options := &Screen{
		Label:  "options",
		Inline: true,
		Update: func(ctx context.Context) (string, []Button, error) {
			return body, []Button{Notify("Play", noopAction)}, nil
		},
	}
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	changed, err := nav.Refresh(ctx, options)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if changed {
		t.Error("unchanged rendering reported a change")
	}

	body = "two"
	changed, err = nav.Refresh(ctx, options)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !changed {
		t.Fatal("changed rendering not reported")
	}
	edit, ok := mock.lastOf("edit")
	if !ok || edit.messageID != id || edit.text != "two" {
		t.Errorf("edit = %+v, want body two on message %d", edit, id)
	}
}

func TestRefreshResendsMissingMessage(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	body := "one"
	options := &Screen{
		Label:  "options",
		Inline: true,
		Update: func(ctx context.Context) (string, []Button, error) {
			return body, []Button{Notify("Play", noopAction)}, nil
		},
	}
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, options)

	mock.editErr = &tele.Error{Code: 400, Description: "Bad Request: message to edit not found"}
	body = "two"
	changed, err := nav.Refresh(ctx, options)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !changed {
		t.Fatal("resend not reported as a change")
	}
	send, ok := mock.lastOf("send")
	if !ok || send.text != "two" || !send.inline {
		t.Errorf("fallback send = %+v, want a fresh inline message", send)
	}
	if send.messageID == id {
		t.Error("expected a fresh message id")
	}

	// Later refreshes edit the replacement message.
	mock.editErr = nil
	body = "three"
	if _, err := nav.Refresh(ctx, options); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	edit, _ := mock.lastOf("edit")
	if edit.messageID != send.messageID {
		t.Errorf("edited %d, want the replacement %d", edit.messageID, send.messageID)
	}
}

func TestRefreshTreatsNotModifiedAsDelivered(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	body := "one"
	options := &Screen{
		Label:  "options",
		Inline: true,
		Update: func(ctx context.Context) (string, []Button, error) {
			return body, []Button{Notify("Play", noopAction)}, nil
		},
	}
	home := staticScreen("start", "Start", Goto("Option", options))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	mustGoto(t, nav, options)
	sends := len(mock.callsOf("send"))

	mock.editErr = &tele.Error{Code: 400, Description: "Bad Request: message is not modified"}
	body = "two"
	changed, err := nav.Refresh(ctx, options)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !changed {
		t.Error("adopted rendering should report a change")
	}
	if len(mock.callsOf("send")) != sends {
		t.Error("not-modified rejection should not trigger a resend")
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	short := inlineScreen("short", "Short", Notify("Ping", noopAction))
	short.Expiry = 5 * time.Second
	long := inlineScreen("long", "Long", Notify("Ping", noopAction))
	home := staticScreen("start", "Start", Goto("Short", short), Goto("Long", long))
	nav := newNavigator(1, mock, nil, Options{DefaultExpiry: time.Minute})

	mustGoto(t, nav, home)
	shortID := mustGoto(t, nav, short)
	mustGoto(t, nav, long)

	if removed := nav.sweepExpired(ctx, time.Now().Add(10*time.Second)); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if nav.LiveCount() != 1 {
		t.Fatalf("live = %d, want 1", nav.LiveCount())
	}
	del, ok := mock.lastOf("delete")
	if !ok || del.messageID != shortID {
		t.Errorf("delete = %+v, want the short-lived message %d", del, shortID)
	}

	if removed := nav.sweepExpired(ctx, time.Now().Add(10*time.Second)); removed != 0 {
		t.Errorf("second sweep removed %d", removed)
	}

	if removed := nav.sweepExpired(ctx, time.Now().Add(2*time.Minute)); removed != 1 {
		t.Errorf("late sweep removed %d, want 1", removed)
	}
	if nav.LiveCount() != 0 {
		t.Errorf("live = %d, want 0", nav.LiveCount())
	}
}

func TestSweepSurvivesDeleteFailure(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	short := inlineScreen("short", "Short", Notify("Ping", noopAction))
	short.Expiry = 5 * time.Second
	home := staticScreen("start", "Start", Goto("Short", short))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	mustGoto(t, nav, short)

	// A failed chat delete still retires the record; the message may
	// already be gone on Telegram's side.
	mock.deleteErr = errors.New("api down")
	if removed := nav.sweepExpired(ctx, time.Now().Add(10*time.Second)); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if nav.LiveCount() != 0 {
		t.Errorf("live = %d, want 0", nav.LiveCount())
	}
}

func TestCallbackPressKeepsMessageAlive(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	short := inlineScreen("short", "Short", Notify("Ping", noopAction))
	short.Expiry = 5 * time.Second
	home := staticScreen("start", "Start", Goto("Short", short))
	nav := newNavigator(1, mock, nil, Options{})
	mustGoto(t, nav, home)
	id := mustGoto(t, nav, short)

	nav.mu.Lock()
	nav.live[0].lastActive = time.Now().Add(-4 * time.Second)
	nav.mu.Unlock()

	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "short.Ping", MessageID: id}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	// The press reset the inactivity clock, so 4s later it is still alive.
	if removed := nav.sweepExpired(ctx, time.Now().Add(4*time.Second)); removed != 0 {
		t.Fatalf("pressed message swept: removed = %d", removed)
	}
}

func TestDropAllLive(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	first := inlineScreen("first", "First", Notify("A", noopAction))
	second := inlineScreen("second_app", "Second", Notify("B", noopAction))
	home := staticScreen("start", "Start", Goto("First", first), Goto("Second", second))
	nav := newNavigator(1, mock, nil, Options{})

	mustGoto(t, nav, home)
	mustGoto(t, nav, first)
	mustGoto(t, nav, second)

	nav.dropAllLive(ctx)
	if nav.LiveCount() != 0 {
		t.Fatalf("live = %d, want 0", nav.LiveCount())
	}
	if got := len(mock.callsOf("delete")); got != 2 {
		t.Errorf("deletes = %d, want 2", got)
	}
}

func TestNavigatorPersistsSnapshots(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	store := memory.New()
	options := inlineScreen("options", "Status", Notify("Play", noopAction))
	second := staticScreen("second", "Second", Goto("Option", options), Back())
	home := staticScreen("start", "Start", Goto("Second menu", second))
	nav := newNavigator(7, mock, store, Options{DefaultExpiry: time.Minute})

	mustGoto(t, nav, home)
	mustGoto(t, nav, second)
	mustGoto(t, nav, options)

	rec, err := store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.SessionID != nav.SessionID() {
		t.Errorf("session id = %v, want %v", rec.SessionID, nav.SessionID())
	}
	if !equalLabels(rec.Menus, []string{"start", "second"}) {
		t.Errorf("menus = %v, want [start second]", rec.Menus)
	}
	if len(rec.Messages) != 1 {
		t.Fatalf("messages = %+v, want one app message", rec.Messages)
	}
	msg := rec.Messages[0]
	if msg.Label != "options" || msg.Content != "Status" || !equalLabels(msg.Buttons, []string{"Play"}) {
		t.Errorf("message = %+v", msg)
	}
	if msg.Expiry != time.Minute {
		t.Errorf("expiry = %v, want the default", msg.Expiry)
	}

	if removed := nav.sweepExpired(ctx, time.Now().Add(2*time.Minute)); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	rec, err = store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Messages) != 0 {
		t.Errorf("messages after sweep = %+v, want none", rec.Messages)
	}
}

func TestAdoptRecord(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	options := inlineScreen("options", "Status", Notify("Play", noopAction))
	gone := inlineScreen("gone", "Gone", Notify("X", noopAction))
	second := staticScreen("second", "Second", Goto("Option", options), Back())
	home := staticScreen("start", "Start", Goto("Second menu", second), Goto("Gone", gone))
	screens := map[string]*Screen{
		"start": home, "second": second, "options": options, "gone": gone,
	}

	now := time.Now()
	rec := storage.Record{
		ChatID:    7,
		SessionID: uuid.New(),
		Menus:     []string{"start", "second", "ghost"},
		Messages: []storage.AppMessage{
			{
				Label: "options", MessageID: 50, Content: "Status",
				Buttons: []string{"Play"},
				SentAt:  now.Add(-time.Minute), LastActive: now.Add(-30 * time.Second),
				Expiry: time.Minute,
			},
			{
				Label: "gone", MessageID: 51, Content: "Gone",
				SentAt: now.Add(-time.Hour), LastActive: now.Add(-time.Hour),
				Expiry: time.Minute,
			},
			{Label: "ghost", MessageID: 52},
		},
	}

	nav := newNavigator(7, mock, memory.New(), Options{DefaultExpiry: time.Minute})
	adopted, dropped := nav.adoptRecord(ctx, rec, home, screens, now)
	if adopted != 1 || dropped != 2 {
		t.Fatalf("adopted = %d, dropped = %d, want 1 and 2", adopted, dropped)
	}
	if nav.SessionID() != rec.SessionID {
		t.Errorf("session id = %v, want the stored %v", nav.SessionID(), rec.SessionID)
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start", "second"}) {
		t.Errorf("stack = %v, want [start second]", got)
	}
	if nav.LiveCount() != 1 {
		t.Errorf("live = %d, want 1", nav.LiveCount())
	}
	del, ok := mock.lastOf("delete")
	if !ok || del.messageID != 51 {
		t.Errorf("delete = %+v, want the expired message 51", del)
	}
	if sends := len(mock.callsOf("send")); sends != 0 {
		t.Errorf("restore sent %d messages, want none", sends)
	}

	// The restored keyboard keeps working.
	if err := nav.HandleCallback(ctx, Callback{ID: "cb1", Data: "options.Play", MessageID: 50}); err != nil {
		t.Fatalf("press after restore: %v", err)
	}
}

func TestAdoptRecordEmptyStackAdoptsHome(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	home := staticScreen("start", "Start", Home())
	screens := map[string]*Screen{"start": home}

	nav := newNavigator(7, mock, nil, Options{})
	adopted, dropped := nav.adoptRecord(ctx, storage.Record{ChatID: 7}, home, screens, time.Now())
	if adopted != 0 || dropped != 0 {
		t.Fatalf("adopted = %d, dropped = %d, want 0 and 0", adopted, dropped)
	}
	if got := nav.StackLabels(); !equalLabels(got, []string{"start"}) {
		t.Errorf("stack = %v, want the home menu", got)
	}
	if sends := len(mock.callsOf("send")); sends != 0 {
		t.Errorf("silent adoption sent %d messages", sends)
	}

	// Back at the adopted home resends it, like on a live stack.
	if _, err := nav.Back(ctx); err != nil {
		t.Fatalf("Back: %v", err)
	}
	send, ok := mock.lastOf("send")
	if !ok || send.text != "Start" {
		t.Errorf("send = %+v, want the home menu", send)
	}
}

func TestSendPhotoFallsBack(t *testing.T) {
	ctx := context.Background()
	mock := newMockMessenger()
	fallback := writePicture(t, "default.png")
	nav := newNavigator(1, mock, nil, Options{DefaultPicture: fallback})

	if _, err := nav.SendPhoto(ctx, filepath.Join(t.TempDir(), "missing.png")); err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	photo, ok := mock.lastOf("photo")
	if !ok || photo.path != fallback {
		t.Errorf("photo = %+v, want the default picture", photo)
	}

	bare := newNavigator(1, mock, nil, Options{})
	if _, err := bare.SendPhoto(ctx, ""); err == nil {
		t.Fatal("expected error without a fallback picture")
	}

	mock.photoErr = errors.New("api down")
	if _, err := nav.SendPhoto(ctx, fallback); err == nil {
		t.Fatal("expected transport error")
	}
}
