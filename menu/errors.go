package menu

import "errors"

var (
	// ErrButtonNotFound marks a label with no matching button on any
	// stacked menu or on the pressed app message.
	ErrButtonNotFound = errors.New("menu: button not found")
	// ErrAmbiguousLabel marks a keyboard offering several buttons with the
	// same label; the press cannot be routed.
	ErrAmbiguousLabel = errors.New("menu: more than one button with the same label")
	// ErrScreenNotFound marks navigation to a screen the session does not know.
	ErrScreenNotFound = errors.New("menu: screen not found")
	// ErrNoSession marks an operation on a chat without an active session.
	ErrNoSession = errors.New("menu: no session for chat")
	// ErrBadCallbackData marks callback data that does not carry a
	// screen/button pair.
	ErrBadCallbackData = errors.New("menu: malformed callback data")
)
