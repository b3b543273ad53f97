package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/telemenu/core/logger"
	"github.com/m3rciful/telemenu/core/storage"
)

// Options carries per-chat defaults shared by all navigators of a manager.
type Options struct {
	// DefaultExpiry bounds inactivity for app messages whose screen does
	// not set its own expiry.
	DefaultExpiry time.Duration
	// DefaultPicture is sent when a picture action names a missing file.
	DefaultPicture string
}

// menuEntry is one stacked menu with the keyboard it was last sent with.
type menuEntry struct {
	screen    *Screen
	buttons   []Button
	messageID int
}

// liveMessage tracks one inline app message currently present in the chat.
// prevContent and prevLabels hold the last rendering actually delivered;
// edits are skipped when a new render matches them.
type liveMessage struct {
	screen      *Screen
	messageID   int
	buttons     []Button
	prevContent string
	prevLabels  []string
	sentAt      time.Time
	lastActive  time.Time
	expiry      time.Duration
}

func (m *liveMessage) expired(now time.Time) bool {
	return now.Sub(m.lastActive) > m.expiry
}

// Navigator drives the menu UI of a single chat: the stack of open menus,
// the live app messages, and every message sent on their behalf. All
// methods serialize on an internal mutex, so one chat is always handled
// one update at a time.
type Navigator struct {
	chatID    int64
	sessionID uuid.UUID
	msgr      Messenger
	store     storage.Store
	opts      Options

	mu    sync.Mutex
	menus []menuEntry
	live  []*liveMessage
}

func newNavigator(chatID int64, msgr Messenger, store storage.Store, opts Options) *Navigator {
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = DefaultExpiry
	}
	return &Navigator{
		chatID:    chatID,
		sessionID: uuid.New(),
		msgr:      msgr,
		store:     store,
		opts:      opts,
	}
}

// ChatID returns the chat this navigator serves.
func (n *Navigator) ChatID() int64 {
	return n.chatID
}

// SessionID returns the stable identifier of this session.
func (n *Navigator) SessionID() uuid.UUID {
	return n.sessionID
}

// StackLabels returns the labels of the stacked menus, home first.
func (n *Navigator) StackLabels() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	labels := make([]string, len(n.menus))
	for i, e := range n.menus {
		labels[i] = e.screen.Label
	}
	return labels
}

// LiveCount returns the number of app messages currently alive.
func (n *Navigator) LiveCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.live)
}

// GotoMenu opens the screen: menus are sent with a reply keyboard and
// pushed on the stack, inline screens become live app messages. It returns
// the id of the sent message.
func (n *Navigator) GotoMenu(ctx context.Context, s *Screen) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gotoMenu(ctx, s)
}

// GotoHome unwinds the stack and reopens the home menu.
func (n *Navigator) GotoHome(ctx context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gotoHome(ctx)
}

// Back reopens the previous menu. At the home menu it resends home.
func (n *Navigator) Back(ctx context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.back(ctx)
}

// SelectButton routes a reply-keyboard press by label. Back and Home are
// handled first; other labels are searched across the stacked menus,
// newest menu first. It returns the id of the message the press produced,
// or ErrButtonNotFound when no stacked menu offers the label.
func (n *Navigator) SelectButton(ctx context.Context, label string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch label {
	case BackLabel:
		return n.back(ctx)
	case HomeLabel:
		return n.gotoHome(ctx)
	}

	for i := len(n.menus) - 1; i >= 0; i-- {
		entry := n.menus[i]
		btn, err := buttonByLabel(entry.buttons, label)
		if errors.Is(err, ErrButtonNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("screen %q: %w", entry.screen.Label, err)
		}
		return n.pressMenuButton(ctx, entry.screen, btn)
	}
	return 0, ErrButtonNotFound
}

// Callback is an inline keyboard press as seen by the bot transport.
type Callback struct {
	// ID resolves the client-side spinner via AnswerCallback.
	ID string
	// Data is the raw callback payload, "<screen>.<button>".
	Data string
	// MessageID is the id of the message carrying the pressed keyboard.
	MessageID int
}

// HandleCallback routes an inline keyboard press to the live app message
// named in the callback data, runs the button, answers the callback, and
// re-renders the pressed message in place when its content changed.
func (n *Navigator) HandleCallback(ctx context.Context, cb Callback) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	screenLabel, btnLabel, ok := ParseCallbackData(cb.Data)
	if !ok {
		n.answer(ctx, cb.ID, "Unknown action")
		return fmt.Errorf("%w: %q", ErrBadCallbackData, logger.SanitizeLimit(cb.Data, 64))
	}

	lm := n.findLive(screenLabel)
	if lm == nil {
		n.answer(ctx, cb.ID, "Unknown action")
		return fmt.Errorf("callback for %q: %w", screenLabel, ErrScreenNotFound)
	}

	btn, err := buttonByLabel(lm.buttons, btnLabel)
	if err != nil {
		n.answer(ctx, cb.ID, "Unknown action")
		return fmt.Errorf("callback %q.%q: %w", screenLabel, btnLabel, err)
	}

	logger.Info(ctx, "nav", "callback.press",
		slog.String("status", "ok"),
		slog.String("screen", screenLabel),
		slog.String("button", btn.Label),
		slog.String("btn_type", btn.Type.String()),
		slog.Int("message_id", cb.MessageID),
	)

	if btn.Target != nil {
		n.answer(ctx, cb.ID, "")
		_, err := n.gotoMenu(ctx, btn.Target)
		return err
	}

	switch btn.Type {
	case ButtonPicture:
		_ = n.msgr.ChatAction(ctx, n.chatID, ActionUploadPhoto)
	case ButtonMessage:
		_ = n.msgr.ChatAction(ctx, n.chatID, ActionTyping)
	}

	result, err := btn.Action(ctx)
	if err != nil {
		n.answer(ctx, cb.ID, "Action failed")
		logger.Error(ctx, "nav", "action.fail",
			slog.String("status", "fail"),
			slog.String("screen", screenLabel),
			slog.String("button", btn.Label),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("action %q: %w", btn.Label, err)
	}

	switch btn.Type {
	case ButtonPicture:
		if _, err := n.sendPhoto(ctx, result, btn.Silent); err != nil {
			n.answer(ctx, cb.ID, "Action failed")
			return err
		}
		n.answer(ctx, cb.ID, "Picture sent!")
	case ButtonMessage:
		if result != "" {
			if _, err := n.msgr.SendMessage(ctx, n.chatID, result, nil, btn.Silent); err != nil {
				n.answer(ctx, cb.ID, "Action failed")
				return fmt.Errorf("send result of %q: %w", btn.Label, err)
			}
		}
		n.answer(ctx, cb.ID, "Message sent!")
	default:
		n.answer(ctx, cb.ID, result)
	}

	n.touchAndRefresh(ctx, lm, cb.MessageID)
	n.persist(ctx)
	return nil
}

// Refresh re-renders the live app message of the screen and edits it when
// the body or keyboard changed, reporting whether an edit happened. Screens
// without a live message (never sent, or already swept) are left alone.
func (n *Navigator) Refresh(ctx context.Context, s *Screen) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if s == nil {
		return false, ErrScreenNotFound
	}
	lm := n.findLive(s.Label)
	if lm == nil {
		logger.Debug(ctx, "nav", "refresh.skip",
			slog.String("status", "skip"),
			slog.String("screen", s.Label),
		)
		return false, nil
	}
	changed, err := n.editLive(ctx, lm, lm.messageID)
	if err != nil {
		return false, err
	}
	if changed {
		lm.lastActive = time.Now()
		n.persist(ctx)
	}
	return changed, nil
}

// SendMessage sends a plain HTML message outside the menu flow, such as a
// broadcast or an action side effect.
func (n *Navigator) SendMessage(ctx context.Context, text string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.msgr.SendMessage(ctx, n.chatID, text, nil, false)
}

// SendPhoto sends the picture at path, falling back to the configured
// default picture when the file does not exist.
func (n *Navigator) SendPhoto(ctx context.Context, path string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sendPhoto(ctx, path, false)
}

func (n *Navigator) gotoMenu(ctx context.Context, s *Screen) (int, error) {
	if s == nil {
		return 0, ErrScreenNotFound
	}
	if s.Inline {
		id, err := n.sendApp(ctx, s)
		if err != nil {
			return 0, err
		}
		if s.HomeAfter {
			if _, err := n.gotoHome(ctx); err != nil {
				return id, err
			}
		}
		return id, nil
	}

	text, buttons, err := n.render(ctx, s)
	if err != nil {
		return 0, err
	}
	id, err := n.msgr.SendMessage(ctx, n.chatID, text, ReplyKeyboard(buttons), s.Silent)
	if err != nil {
		return 0, fmt.Errorf("menu %q: %w", s.Label, err)
	}
	n.menus = append(n.menus, menuEntry{screen: s, buttons: buttons, messageID: id})
	logger.Info(ctx, "nav", "menu.open",
		slog.String("status", "ok"),
		slog.String("screen", s.Label),
		slog.Int("message_id", id),
		slog.Int("stack_depth", len(n.menus)),
	)
	n.persist(ctx)
	return id, nil
}

func (n *Navigator) gotoHome(ctx context.Context) (int, error) {
	if len(n.menus) == 0 {
		return 0, ErrScreenNotFound
	}
	root := n.menus[0].screen
	n.menus = n.menus[:0]
	return n.gotoMenu(ctx, root)
}

func (n *Navigator) back(ctx context.Context) (int, error) {
	if len(n.menus) == 0 {
		return 0, ErrScreenNotFound
	}
	idx := len(n.menus) - 1
	if idx > 0 {
		idx--
	}
	target := n.menus[idx].screen
	n.menus = n.menus[:idx]
	return n.gotoMenu(ctx, target)
}

func (n *Navigator) pressMenuButton(ctx context.Context, from *Screen, btn Button) (int, error) {
	logger.Debug(ctx, "nav", "button.select",
		slog.String("status", "ok"),
		slog.String("screen", from.Label),
		slog.String("button", btn.Label),
		slog.String("btn_type", btn.Type.String()),
	)

	if btn.Target != nil {
		return n.gotoMenu(ctx, btn.Target)
	}

	result, err := btn.Action(ctx)
	if err != nil {
		logger.Error(ctx, "nav", "action.fail",
			slog.String("status", "fail"),
			slog.String("screen", from.Label),
			slog.String("button", btn.Label),
			slog.String("err", err.Error()),
		)
		return 0, fmt.Errorf("action %q: %w", btn.Label, err)
	}

	switch btn.Type {
	case ButtonPicture:
		return n.sendPhoto(ctx, result, btn.Silent)
	default:
		// Popups have no callback query here; deliver as a plain message.
		if result == "" {
			return 0, nil
		}
		id, err := n.msgr.SendMessage(ctx, n.chatID, result, nil, btn.Silent)
		if err != nil {
			return 0, fmt.Errorf("send result of %q: %w", btn.Label, err)
		}
		return id, nil
	}
}

// sendApp sends an inline screen as a live app message. Only one live
// message per screen label may exist; a previous one is deleted first.
func (n *Navigator) sendApp(ctx context.Context, s *Screen) (int, error) {
	text, buttons, err := n.render(ctx, s)
	if err != nil {
		return 0, err
	}

	if prev := n.findLive(s.Label); prev != nil {
		n.dropLive(ctx, prev, "replaced")
	}

	id, err := n.msgr.SendMessage(ctx, n.chatID, text, InlineKeyboard(s.Label, buttons), s.Silent)
	if err != nil {
		return 0, fmt.Errorf("app message %q: %w", s.Label, err)
	}

	now := time.Now()
	lm := &liveMessage{
		screen:      s,
		messageID:   id,
		buttons:     buttons,
		prevContent: text,
		prevLabels:  ButtonLabels(buttons),
		sentAt:      now,
		lastActive:  now,
		expiry:      s.Expiry,
	}
	if lm.expiry <= 0 {
		lm.expiry = n.opts.DefaultExpiry
	}
	n.live = append(n.live, lm)
	logger.Info(ctx, "nav", "app.open",
		slog.String("status", "ok"),
		slog.String("screen", s.Label),
		slog.Int("message_id", id),
		slog.Int("count", len(n.live)),
	)
	n.persist(ctx)
	return id, nil
}

// render runs the screen's update func and validates the result.
func (n *Navigator) render(ctx context.Context, s *Screen) (string, []Button, error) {
	if err := s.validate(); err != nil {
		return "", nil, err
	}
	text, buttons, err := s.Update(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("render %q: %w", s.Label, err)
	}
	for _, b := range buttons {
		if err := validateButton(b); err != nil {
			return "", nil, fmt.Errorf("screen %q: %w", s.Label, err)
		}
	}
	return text, buttons, nil
}

// touchAndRefresh records activity on the pressed message and re-renders it.
func (n *Navigator) touchAndRefresh(ctx context.Context, lm *liveMessage, messageID int) {
	lm.lastActive = time.Now()
	if messageID == 0 {
		messageID = lm.messageID
	}
	if _, err := n.editLive(ctx, lm, messageID); err != nil {
		logger.Warn(ctx, "nav", "message.edit.fail",
			slog.String("screen", lm.screen.Label),
			slog.Int("message_id", messageID),
			slog.String("err", err.Error()),
		)
	}
}

// editLive re-renders the live message and edits the chat when the body or
// keyboard labels changed. When the target message is gone it falls back to
// sending a fresh one and adopts the new id. Reports whether the chat view
// was updated.
func (n *Navigator) editLive(ctx context.Context, lm *liveMessage, messageID int) (bool, error) {
	text, buttons, err := n.render(ctx, lm.screen)
	if err != nil {
		return false, err
	}
	labels := ButtonLabels(buttons)
	if text == lm.prevContent && equalLabels(labels, lm.prevLabels) {
		return false, nil
	}

	outcome := "ok"
	markup := InlineKeyboard(lm.screen.Label, buttons)
	err = n.msgr.EditMessage(ctx, n.chatID, messageID, text, markup)
	switch {
	case err == nil:
	case isNotModified(err):
		// The chat already shows this rendering; adopt it silently.
	case isMessageMissing(err):
		id, sendErr := n.msgr.SendMessage(ctx, n.chatID, text, markup, lm.screen.Silent)
		if sendErr != nil {
			return false, fmt.Errorf("resend %q: %w", lm.screen.Label, sendErr)
		}
		lm.messageID = id
		messageID = id
		outcome = "resent"
	default:
		return false, fmt.Errorf("edit %q: %w", lm.screen.Label, err)
	}

	lm.buttons = buttons
	lm.prevContent = text
	lm.prevLabels = labels
	logger.Debug(ctx, "nav", "message.edit",
		slog.String("status", "ok"),
		slog.String("screen", lm.screen.Label),
		slog.Int("message_id", messageID),
		slog.String("op", outcome),
	)
	return true, nil
}

func (n *Navigator) sendPhoto(ctx context.Context, path string, silent bool) (int, error) {
	resolved := path
	if !fileExists(resolved) {
		logger.Warn(ctx, "nav", "picture.fallback",
			slog.String("status", "fail"),
			slog.String("payload", logger.SanitizeLimit(path, 128)),
		)
		resolved = n.opts.DefaultPicture
	}
	if strings.TrimSpace(resolved) == "" {
		return 0, fmt.Errorf("menu: no picture to send")
	}
	id, err := n.msgr.SendPhoto(ctx, n.chatID, resolved, "", silent)
	if err != nil {
		return 0, fmt.Errorf("send photo: %w", err)
	}
	return id, nil
}

func (n *Navigator) findLive(label string) *liveMessage {
	for _, lm := range n.live {
		if lm.screen.Label == label {
			return lm
		}
	}
	return nil
}

// dropLive deletes the chat message and forgets the record.
func (n *Navigator) dropLive(ctx context.Context, lm *liveMessage, reason string) {
	if err := n.msgr.DeleteMessage(ctx, n.chatID, lm.messageID); err != nil {
		logger.Warn(ctx, "nav", "message.delete.fail",
			slog.String("screen", lm.screen.Label),
			slog.Int("message_id", lm.messageID),
			slog.String("err", err.Error()),
		)
	}
	for i, cur := range n.live {
		if cur == lm {
			n.live = append(n.live[:i], n.live[i+1:]...)
			break
		}
	}
	logger.Debug(ctx, "nav", "message.delete",
		slog.String("status", "ok"),
		slog.String("screen", lm.screen.Label),
		slog.Int("message_id", lm.messageID),
		slog.String("op", reason),
	)
}

// dropAllLive deletes every live app message. Used when the session is
// replaced, so dead keyboards do not linger in the chat. It does not
// persist: the replacing session owns the stored record from here on.
func (n *Navigator) dropAllLive(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, lm := range n.live {
		if err := n.msgr.DeleteMessage(ctx, n.chatID, lm.messageID); err != nil {
			logger.Warn(ctx, "nav", "message.delete.fail",
				slog.String("screen", lm.screen.Label),
				slog.Int("message_id", lm.messageID),
				slog.String("err", err.Error()),
			)
		}
	}
	n.live = nil
}

// sweepExpired deletes app messages whose inactivity exceeded their expiry
// and reports how many were removed. Removed messages never come back:
// later presses on their keyboards answer "Unknown action".
func (n *Navigator) sweepExpired(ctx context.Context, now time.Time) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	removed := 0
	kept := n.live[:0]
	for _, lm := range n.live {
		if !lm.expired(now) {
			kept = append(kept, lm)
			continue
		}
		removed++
		logger.Debug(ctx, "session.sweep", "message.expire",
			slog.String("status", "ok"),
			slog.String("screen", lm.screen.Label),
			slog.Int("message_id", lm.messageID),
			slog.Bool("expired", true),
		)
		if err := n.msgr.DeleteMessage(ctx, n.chatID, lm.messageID); err != nil {
			logger.Warn(ctx, "session.sweep", "message.delete.fail",
				slog.String("screen", lm.screen.Label),
				slog.Int("message_id", lm.messageID),
				slog.String("err", err.Error()),
			)
		}
	}
	if removed > 0 {
		n.live = kept
		n.persist(ctx)
	}
	return removed
}

// adoptRecord rebuilds navigator state from a stored snapshot against a
// freshly built screen tree. Messages already expired at restore time are
// deleted from the chat instead of adopted. An empty restored stack adopts
// the home menu silently so Back and Home keep working.
func (n *Navigator) adoptRecord(ctx context.Context, rec storage.Record, root *Screen, screens map[string]*Screen, now time.Time) (adopted, dropped int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if rec.SessionID != uuid.Nil {
		n.sessionID = rec.SessionID
	}

	n.menus = n.menus[:0]
	for _, label := range rec.Menus {
		s, ok := screens[label]
		if !ok || s.Inline {
			logger.Warn(ctx, "session", "restore.menu.skip",
				slog.Int64("chat_id", n.chatID),
				slog.String("screen", label),
			)
			continue
		}
		_, buttons, err := n.render(ctx, s)
		if err != nil {
			logger.Warn(ctx, "session", "restore.menu.skip",
				slog.Int64("chat_id", n.chatID),
				slog.String("screen", label),
				slog.String("err", err.Error()),
			)
			continue
		}
		n.menus = append(n.menus, menuEntry{screen: s, buttons: buttons})
	}
	if len(n.menus) == 0 && root != nil {
		if _, buttons, err := n.render(ctx, root); err == nil {
			n.menus = append(n.menus, menuEntry{screen: root, buttons: buttons})
		}
	}

	n.live = n.live[:0]
	for _, msg := range rec.Messages {
		s, ok := screens[msg.Label]
		if !ok || !s.Inline {
			dropped++
			continue
		}
		expiry := msg.Expiry
		if expiry <= 0 {
			expiry = n.opts.DefaultExpiry
		}
		lm := &liveMessage{
			screen:      s,
			messageID:   msg.MessageID,
			prevContent: msg.Content,
			prevLabels:  msg.Buttons,
			sentAt:      msg.SentAt,
			lastActive:  msg.LastActive,
			expiry:      expiry,
		}
		if lm.expired(now) {
			dropped++
			if err := n.msgr.DeleteMessage(ctx, n.chatID, lm.messageID); err != nil {
				logger.Warn(ctx, "session", "restore.delete.fail",
					slog.Int64("chat_id", n.chatID),
					slog.Int("message_id", lm.messageID),
					slog.String("err", err.Error()),
				)
			}
			continue
		}
		// The keyboard on record carries labels only; actions come from the
		// fresh tree. Labels missing from the new render answer as unknown.
		_, buttons, err := n.render(ctx, s)
		if err != nil {
			dropped++
			continue
		}
		lm.buttons = buttons
		n.live = append(n.live, lm)
		adopted++
	}

	n.persist(ctx)
	return adopted, dropped
}

// answer resolves the callback spinner; failures are logged, never fatal.
func (n *Navigator) answer(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := n.msgr.AnswerCallback(ctx, callbackID, text); err != nil {
		logger.Warn(ctx, "nav", "callback.answer.fail",
			slog.String("err", err.Error()),
		)
	}
}

// persist stores the current snapshot; failures are logged, never fatal.
func (n *Navigator) persist(ctx context.Context) {
	if n.store == nil {
		return
	}
	if err := n.store.Put(ctx, n.snapshot()); err != nil {
		logger.Warn(ctx, "store", "session.persist.fail",
			slog.Int64("chat_id", n.chatID),
			slog.String("err", err.Error()),
		)
	}
}

// snapshot builds the persisted view of the session. Callers hold mu.
func (n *Navigator) snapshot() storage.Record {
	rec := storage.Record{
		ChatID:    n.chatID,
		SessionID: n.sessionID,
		UpdatedAt: time.Now().UTC(),
	}
	for _, e := range n.menus {
		rec.Menus = append(rec.Menus, e.screen.Label)
	}
	for _, lm := range n.live {
		rec.Messages = append(rec.Messages, storage.AppMessage{
			Label:      lm.screen.Label,
			MessageID:  lm.messageID,
			Content:    lm.prevContent,
			Buttons:    append([]string(nil), lm.prevLabels...),
			SentAt:     lm.sentAt,
			LastActive: lm.lastActive,
			Expiry:     lm.expiry,
		})
	}
	return rec
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
