package menu

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/telemenu/core/logger"
	"github.com/m3rciful/telemenu/core/telegram/sender"
	"log/slog"
)

// Chat actions mirrored from the Bot API.
const (
	ActionTyping      = "typing"
	ActionUploadPhoto = "upload_photo"
)

// Messenger is the transport navigators talk to. Implementations must be
// safe for concurrent use across chats.
type Messenger interface {
	// SendMessage sends an HTML message and returns its id.
	SendMessage(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup, silent bool) (int, error)
	// EditMessage replaces the text and keyboard of an existing message.
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tele.ReplyMarkup) error
	// DeleteMessage removes a message; deleting one that is already gone is not an error.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// SendPhoto sends the picture at path and returns the message id.
	SendPhoto(ctx context.Context, chatID int64, path, caption string, silent bool) (int, error)
	// AnswerCallback resolves a callback query, optionally with popup text.
	AnswerCallback(ctx context.Context, callbackID, text string) error
	// ChatAction shows a transient chat action such as "typing".
	ChatAction(ctx context.Context, chatID int64, action string) error
}

// botMessenger drives a telebot instance. Sends and edits run synchronously
// because navigation needs their message ids and errors; deletes, callback
// answers, and chat actions ride the async dispatcher.
type botMessenger struct {
	bot  *tele.Bot
	disp *sender.Dispatcher
}

// NewMessenger wraps a telebot instance. The dispatcher is optional; without
// one, fire-and-forget calls run inline.
func NewMessenger(bot *tele.Bot, disp *sender.Dispatcher) Messenger {
	return &botMessenger{bot: bot, disp: disp}
}

func (m *botMessenger) SendMessage(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup, silent bool) (int, error) {
	opts := &tele.SendOptions{
		ParseMode:           tele.ModeHTML,
		DisableNotification: silent,
	}
	if markup != nil {
		opts.ReplyMarkup = markup
	}
	msg, err := m.bot.Send(tele.ChatID(chatID), text, opts)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (m *botMessenger) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if markup != nil {
		opts.ReplyMarkup = markup
	}
	_, err := m.bot.Edit(storedMessage(chatID, messageID), text, opts)
	return err
}

func (m *botMessenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	ref := storedMessage(chatID, messageID)
	return m.async(ctx, "message.delete", "deleteMessage", func() error {
		err := m.bot.Delete(ref)
		if err != nil && isMessageMissing(err) {
			logger.Debug(ctx, "tg.sender", "delete.already_gone",
				slog.Int64("chat_id", chatID),
				slog.Int("message_id", messageID),
			)
			return nil
		}
		return err
	})
}

func (m *botMessenger) SendPhoto(ctx context.Context, chatID int64, path, caption string, silent bool) (int, error) {
	photo := &tele.Photo{File: tele.FromDisk(path)}
	if caption != "" {
		photo.Caption = caption
	}
	opts := &tele.SendOptions{
		ParseMode:           tele.ModeHTML,
		DisableNotification: silent,
	}
	msg, err := m.bot.Send(tele.ChatID(chatID), photo, opts)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (m *botMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	cb := &tele.Callback{ID: callbackID}
	resp := &tele.CallbackResponse{Text: text}
	return m.async(ctx, "callback.answer", "answerCallbackQuery", func() error {
		return m.bot.Respond(cb, resp)
	})
}

func (m *botMessenger) ChatAction(ctx context.Context, chatID int64, action string) error {
	return m.async(ctx, "chat.action", "sendChatAction", func() error {
		return m.bot.Notify(tele.ChatID(chatID), tele.ChatAction(action))
	})
}

// async enqueues the call, falling back to inline execution when the queue
// is saturated or already closed.
func (m *botMessenger) async(ctx context.Context, action, endpoint string, run func() error) error {
	if m.disp == nil {
		return run()
	}
	if err := m.disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

func storedMessage(chatID int64, messageID int) tele.StoredMessage {
	return tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
}

// isNotModified reports whether err is the API rejection for edits that
// change nothing. Navigation treats it as success.
func isNotModified(err error) bool {
	var apiErr *tele.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 400 && strings.Contains(apiErr.Description, "message is not modified")
}

// isMessageMissing reports whether err indicates the target message no
// longer exists or cannot be touched anymore.
func isMessageMissing(err error) bool {
	var apiErr *tele.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code != 400 {
		return false
	}
	for _, marker := range []string{
		"message to edit not found",
		"message to delete not found",
		"message can't be edited",
		"message can't be deleted",
		"MESSAGE_ID_INVALID",
	} {
		if strings.Contains(apiErr.Description, marker) {
			return true
		}
	}
	return false
}
