package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/telemenu/core/logger"
	"github.com/m3rciful/telemenu/core/storage"
	tg "github.com/m3rciful/telemenu/core/telegram"
	"github.com/m3rciful/telemenu/core/telegram/middleware"
)

const (
	// DefaultExpiry bounds app message inactivity when a screen sets none.
	DefaultExpiry = 120 * time.Second
	// DefaultSweepInterval is how often expired app messages are collected.
	DefaultSweepInterval = 10 * time.Second
)

// ManagerOptions configures a SessionManager.
type ManagerOptions struct {
	// Messenger delivers chat output. Required.
	Messenger Messenger
	// Factory builds the screen tree for each new session. Required.
	Factory ScreenFactory
	// Store persists sessions across restarts. Optional.
	Store storage.Store
	// Registry resolves slash commands not bound as dedicated routes,
	// such as command aliases. Optional.
	Registry *tg.Registry

	// DefaultExpiry applies to screens without their own expiry.
	DefaultExpiry time.Duration
	// SweepInterval is the cadence of StartSweeper.
	SweepInterval time.Duration
	// DefaultPicture replaces picture payloads pointing at missing files.
	DefaultPicture string
}

// SessionManager owns one Navigator per chat and exposes the bot routes
// that feed them: /start opens a session, text presses reply buttons,
// callbacks press inline buttons.
type SessionManager struct {
	msgr          Messenger
	factory       ScreenFactory
	store         storage.Store
	reg           *tg.Registry
	opts          Options
	sweepInterval time.Duration

	mu       sync.RWMutex
	sessions map[int64]*Navigator
}

// NewSessionManager builds a manager from options, applying defaults.
func NewSessionManager(opts ManagerOptions) (*SessionManager, error) {
	if opts.Messenger == nil {
		return nil, errors.New("menu: manager needs a messenger")
	}
	if opts.Factory == nil {
		return nil, errors.New("menu: manager needs a screen factory")
	}
	expiry := opts.DefaultExpiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	return &SessionManager{
		msgr:    opts.Messenger,
		factory: opts.Factory,
		store:   opts.Store,
		reg:     opts.Registry,
		opts: Options{
			DefaultExpiry:  expiry,
			DefaultPicture: opts.DefaultPicture,
		},
		sweepInterval: sweep,
		sessions:      make(map[int64]*Navigator),
	}, nil
}

// StartSession builds a fresh session for the chat and opens its home menu.
// An existing session for the chat is replaced and its app messages are
// deleted, so stale keyboards do not survive a /start.
func (m *SessionManager) StartSession(ctx context.Context, chatID int64) (*Navigator, error) {
	nav := newNavigator(chatID, m.msgr, m.store, m.opts)
	root, err := m.factory(nav)
	if err != nil {
		return nil, fmt.Errorf("build screens for chat %d: %w", chatID, err)
	}
	if _, err := collectScreens(ctx, root); err != nil {
		return nil, fmt.Errorf("screens for chat %d: %w", chatID, err)
	}

	m.mu.Lock()
	prev := m.sessions[chatID]
	m.sessions[chatID] = nav
	m.mu.Unlock()

	if prev != nil {
		prev.dropAllLive(ctx)
	}

	if _, err := nav.GotoMenu(ctx, root); err != nil {
		m.mu.Lock()
		if m.sessions[chatID] == nav {
			delete(m.sessions, chatID)
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("open home menu for chat %d: %w", chatID, err)
	}

	logger.Info(ctx, "session", "session.start",
		slog.String("status", "ok"),
		slog.Int64("chat_id", chatID),
		slog.String("session_id", nav.sessionID.String()),
		slog.Bool("replaced", prev != nil),
	)
	return nav, nil
}

// Session returns the navigator of the chat, if one is active.
func (m *SessionManager) Session(chatID int64) (*Navigator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nav, ok := m.sessions[chatID]
	return nav, ok
}

// EndSession drops the chat's session: live app messages are deleted and
// the persisted snapshot is removed, so a restart will not revive it.
// Returns ErrNoSession when the chat has no active session.
func (m *SessionManager) EndSession(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	nav, ok := m.sessions[chatID]
	delete(m.sessions, chatID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("end session for chat %d: %w", chatID, ErrNoSession)
	}

	nav.dropAllLive(ctx)
	if m.store != nil {
		if err := m.store.Delete(ctx, chatID); err != nil {
			return fmt.Errorf("drop stored session for chat %d: %w", chatID, err)
		}
	}
	logger.Info(ctx, "session", "session.end",
		slog.String("status", "ok"),
		slog.Int64("chat_id", chatID),
		slog.String("session_id", nav.sessionID.String()),
	)
	return nil
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) snapshotSessions() []*Navigator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	navs := make([]*Navigator, 0, len(m.sessions))
	for _, nav := range m.sessions {
		navs = append(navs, nav)
	}
	return navs
}

// Routes exposes the bot handlers driving the menus. Each route carries
// the shared recover and logging middleware.
func (m *SessionManager) Routes() []tg.Route {
	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}
	return []tg.Route{
		{Endpoint: "/start", Handler: wrap(m.handleStart)},
		{Endpoint: tele.OnText, Handler: wrap(m.handleText)},
		{Endpoint: tele.OnCallback, Handler: wrap(m.handleCallback)},
	}
}

func (m *SessionManager) handleStart(c tele.Context) error {
	start := time.Now()
	chat := c.Chat()
	if chat == nil {
		logHandlerSummary(c, "start", start, "skip", "ok", nil)
		return nil
	}
	ctx := middleware.WithHandler(c, "start")
	_, err := m.StartSession(ctx, chat.ID)
	logHandlerSummary(c, "start", start, "", "", err)
	return err
}

// handleText routes free text. Slash commands go through the registry so
// aliases keep working; anything else is treated as a reply button label.
func (m *SessionManager) handleText(c tele.Context) error {
	start := time.Now()
	chat := c.Chat()
	text := strings.TrimSpace(c.Text())
	if chat == nil || text == "" {
		logHandlerSummary(c, "text", start, "skip", "ok", nil)
		return nil
	}

	if strings.HasPrefix(text, "/") {
		return m.dispatchCommand(c, start, text)
	}

	ctx := middleware.WithHandler(c, "menu.select")
	nav, ok := m.Session(chat.ID)
	if !ok {
		_, err := m.StartSession(ctx, chat.ID)
		logHandlerSummary(c, "menu.select", start, "", "", err,
			slog.String("reason", "no_session"))
		return err
	}

	_, err := nav.SelectButton(ctx, text)
	if errors.Is(err, ErrButtonNotFound) {
		logHandlerSummary(c, "menu.select", start, "skip", "ok", nil,
			slog.String("label", logger.SanitizeLimit(text, 64)))
		return nil
	}
	logHandlerSummary(c, "menu.select", start, "", "", err,
		slog.String("label", logger.SanitizeLimit(text, 64)))
	return err
}

// dispatchCommand resolves slash commands that reached the text route,
// which happens for aliases and unregistered commands. Admin-only commands
// are bound as dedicated routes with their own access check and are not
// dispatched from here.
func (m *SessionManager) dispatchCommand(c tele.Context, start time.Time, text string) error {
	name := strings.Fields(text)[0]
	if m.reg != nil {
		if key, cmd, ok := m.reg.LookupCommand(name); ok && cmd.Handler != nil && !cmd.AdminOnly {
			handler := normalizeHandlerName(key)
			middleware.WithHandler(c, handler)
			err := cmd.Handler(c)
			logHandlerSummary(c, handler, start, "", "", err)
			return err
		}
	}
	logHandlerSummary(c, "command", start, "skip", "ok", nil,
		slog.String("payload", logger.SanitizeLimit(name, 64)))
	return nil
}

func (m *SessionManager) handleCallback(c tele.Context) error {
	start := time.Now()
	cb := c.Callback()
	chat := c.Chat()
	if cb == nil || chat == nil {
		logHandlerSummary(c, "callback", start, "skip", "ok", nil)
		return nil
	}

	ctx := middleware.WithHandler(c, "callback")
	nav, ok := m.Session(chat.ID)
	if !ok {
		started, err := m.StartSession(ctx, chat.ID)
		if err != nil {
			logHandlerSummary(c, "callback", start, "", "", err)
			return err
		}
		nav = started
	}

	data := strings.TrimPrefix(cb.Data, "\f")
	err := nav.HandleCallback(ctx, Callback{
		ID:        cb.ID,
		Data:      data,
		MessageID: callbackMessageID(cb),
	})
	// Presses on swept or stale keyboards are expected; they were already
	// answered with "Unknown action".
	if errors.Is(err, ErrBadCallbackData) ||
		errors.Is(err, ErrScreenNotFound) ||
		errors.Is(err, ErrButtonNotFound) {
		logHandlerSummary(c, "callback", start, "skip", "ok", nil,
			slog.String("payload", logger.SanitizeLimit(data, 64)))
		return nil
	}
	logHandlerSummary(c, "callback", start, "", "", err,
		slog.String("payload", logger.SanitizeLimit(data, 64)))
	return err
}

func callbackMessageID(cb *tele.Callback) int {
	if cb.Message != nil {
		return cb.Message.ID
	}
	return 0
}

// StartSweeper runs the expiry sweeper until ctx is done.
func (m *SessionManager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		logger.Info(ctx, "session.sweep", "sweep.run",
			slog.String("status", "ok"),
			slog.Int64("interval_ms", m.sweepInterval.Milliseconds()),
		)
		for {
			select {
			case <-ctx.Done():
				logger.Info(ctx, "session.sweep", "sweep.stop",
					slog.String("status", "ok"),
				)
				return
			case now := <-ticker.C:
				m.SweepOnce(ctx, now)
			}
		}
	}()
}

// SweepOnce deletes app messages whose inactivity exceeded their expiry
// across all sessions, as of now. It returns how many were removed.
func (m *SessionManager) SweepOnce(ctx context.Context, now time.Time) int {
	navs := m.snapshotSessions()
	expired := 0
	for _, nav := range navs {
		expired += nav.sweepExpired(ctx, now)
	}
	if expired > 0 {
		logger.Info(ctx, "session.sweep", "sweep.done",
			slog.String("status", "ok"),
			slog.Int("expired", expired),
			slog.Int("sessions", len(navs)),
		)
	} else if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "session.sweep", "sweep.done",
			slog.String("status", "ok"),
			slog.Int("expired", 0),
			slog.Int("sessions", len(navs)),
		)
	}
	return expired
}

// Broadcast sends the text to every active session. Failed chats do not
// stop the loop; their errors are aggregated.
func (m *SessionManager) Broadcast(ctx context.Context, text string) error {
	navs := m.snapshotSessions()
	var errs *multierror.Error
	sent := 0
	for _, nav := range navs {
		if _, err := nav.SendMessage(ctx, text); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("chat %d: %w", nav.chatID, err))
			continue
		}
		sent++
	}
	logger.Info(ctx, "session", "broadcast",
		slog.String("status", logger.Status(errs.ErrorOrNil())),
		slog.Int("sent", sent),
		slog.Int("failed", len(navs)-sent),
	)
	return errs.ErrorOrNil()
}

// BroadcastPhoto sends the picture at path to every active session.
func (m *SessionManager) BroadcastPhoto(ctx context.Context, path string) error {
	navs := m.snapshotSessions()
	var errs *multierror.Error
	sent := 0
	for _, nav := range navs {
		if _, err := nav.SendPhoto(ctx, path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("chat %d: %w", nav.chatID, err))
			continue
		}
		sent++
	}
	logger.Info(ctx, "session", "broadcast",
		slog.String("status", logger.Status(errs.ErrorOrNil())),
		slog.String("op", "photo"),
		slog.Int("sent", sent),
		slog.Int("failed", len(navs)-sent),
	)
	return errs.ErrorOrNil()
}

// Restore rebuilds sessions from the store, usually at startup. Stored
// messages already past their expiry are deleted instead of adopted.
// It returns how many sessions were restored; per-chat failures are
// aggregated and do not stop the rest.
func (m *SessionManager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	records, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	var errs *multierror.Error
	restored, adoptedTotal, droppedTotal := 0, 0, 0
	now := time.Now()
	for _, rec := range records {
		nav := newNavigator(rec.ChatID, m.msgr, m.store, m.opts)
		root, err := m.factory(nav)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("chat %d: %w", rec.ChatID, err))
			continue
		}
		screens, err := collectScreens(ctx, root)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("chat %d: %w", rec.ChatID, err))
			continue
		}
		adopted, dropped := nav.adoptRecord(ctx, rec, root, screens, now)
		adoptedTotal += adopted
		droppedTotal += dropped

		m.mu.Lock()
		m.sessions[rec.ChatID] = nav
		m.mu.Unlock()
		restored++
	}

	logger.Info(ctx, "session", "session.restore",
		slog.String("status", logger.Status(errs.ErrorOrNil())),
		slog.Int("sessions", restored),
		slog.Int("messages", adoptedTotal),
		slog.Int("dropped", droppedTotal),
	)
	return restored, errs.ErrorOrNil()
}

func logHandlerSummary(c tele.Context, handlerName string, start time.Time, statusOverride, outcomeOverride string, err error, extras ...slog.Attr) {
	ctx := middleware.WithHandler(c, handlerName)

	status := statusOverride
	if status == "" {
		status = logger.Status(err)
	}
	outcome := outcomeOverride
	if outcome == "" {
		if err != nil {
			outcome = "fail"
		} else {
			outcome = "ok"
		}
	}

	duration := logger.RoundMS(time.Since(start)).Milliseconds()
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("handler", handlerName),
		slog.String("outcome", outcome),
		slog.Int64("duration_ms", duration),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", deriveErrorCode(err)),
			slog.String("cause", handlerName),
		)
	}
	if len(extras) > 0 {
		attrs = append(attrs, extras...)
	}
	logger.LogEvent(ctx, logger.Component("tg"), slog.LevelInfo, "handler.handled", attrs...)
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

func deriveErrorCode(err error) string {
	if err == nil {
		return ""
	}
	type coder interface{ Code() string }
	if c, ok := err.(coder); ok {
		code := strings.TrimSpace(c.Code())
		if code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil {
		return strings.ToUpper(strings.ReplaceAll(t.Name(), " ", "_"))
	}
	return "UNKNOWN_ERROR"
}
