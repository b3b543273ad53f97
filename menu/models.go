package menu

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ButtonType selects how the result of a button action is delivered.
type ButtonType int

const (
	// ButtonNotify shows the action result as a popup notification; nothing
	// is added to the conversation.
	ButtonNotify ButtonType = iota
	// ButtonMessage sends the action result as a new HTML message.
	ButtonMessage
	// ButtonPicture treats the action result as a path and sends the picture.
	ButtonPicture
)

// String returns the log name of the type.
func (t ButtonType) String() string {
	switch t {
	case ButtonMessage:
		return "message"
	case ButtonPicture:
		return "picture"
	default:
		return "notify"
	}
}

// ActionFunc runs when a button without a target screen is pressed. The
// returned string is delivered according to the button type: popup text for
// ButtonNotify, HTML body for ButtonMessage, picture path for ButtonPicture.
type ActionFunc func(ctx context.Context) (string, error)

// UpdateFunc renders a screen, returning the current HTML body and buttons.
// It runs on every send, edit check, and session restore, so the keyboard
// may change between calls.
type UpdateFunc func(ctx context.Context) (string, []Button, error)

// ScreenFactory builds the home screen of one chat session; the rest of the
// tree hangs off it through button targets. It runs once per session start
// and once per restored session, receiving the navigator so that screen
// actions can send messages through it.
type ScreenFactory func(nav *Navigator) (*Screen, error)

// Reserved button labels handled by the navigator itself.
const (
	// BackLabel reopens the previous menu.
	BackLabel = "Back"
	// HomeLabel reopens the home menu.
	HomeLabel = "Home"
)

// Button is one entry of a screen keyboard. Exactly one of Target and
// Action must be set; the reserved Back and Home buttons carry neither.
type Button struct {
	// Label is the visible text and the identifier inside callback data.
	Label string
	// Target opens another screen when pressed.
	Target *Screen
	// Action runs when pressed; its result is delivered per Type.
	Action ActionFunc
	// Type selects delivery of the action result.
	Type ButtonType
	// Silent suppresses the client notification for messages this button sends.
	Silent bool
}

// Goto returns a button that opens another screen.
func Goto(label string, target *Screen) Button {
	return Button{Label: label, Target: target}
}

// Notify returns a button whose action result pops up as a notification.
func Notify(label string, action ActionFunc) Button {
	return Button{Label: label, Action: action, Type: ButtonNotify}
}

// Post returns a button whose action result is sent as an HTML message.
func Post(label string, action ActionFunc) Button {
	return Button{Label: label, Action: action, Type: ButtonMessage}
}

// Photo returns a button whose action result names a picture to send.
func Photo(label string, action ActionFunc) Button {
	return Button{Label: label, Action: action, Type: ButtonPicture}
}

// Back returns the reserved button that reopens the previous menu.
func Back() Button {
	return Button{Label: BackLabel}
}

// Home returns the reserved button that reopens the home menu.
func Home() Button {
	return Button{Label: HomeLabel}
}

// Screen declares one node of the menu tree.
type Screen struct {
	// Label identifies the screen in callback data and session snapshots.
	// It must be unique within the tree and must not contain the callback
	// separator.
	Label string
	// Update renders the screen body and keyboard.
	Update UpdateFunc
	// Inline makes the screen a live app message with an inline keyboard.
	// Non-inline screens are menus that drive the reply keyboard.
	Inline bool
	// HomeAfter reopens the home menu right after this inline screen is sent.
	HomeAfter bool
	// Expiry bounds inactivity for inline screens; zero uses the session default.
	Expiry time.Duration
	// Silent suppresses the client notification when the screen is sent.
	Silent bool
}

func (s *Screen) validate() error {
	if s == nil {
		return fmt.Errorf("menu: nil screen")
	}
	if strings.TrimSpace(s.Label) == "" {
		return fmt.Errorf("menu: screen label is empty")
	}
	if s.Label == BackLabel || s.Label == HomeLabel {
		return fmt.Errorf("menu: screen label %q is reserved", s.Label)
	}
	if strings.Contains(s.Label, callbackSep) {
		return fmt.Errorf("menu: screen label %q contains %q", s.Label, callbackSep)
	}
	if s.Update == nil {
		return fmt.Errorf("menu: screen %q has no update func", s.Label)
	}
	if s.HomeAfter && !s.Inline {
		return fmt.Errorf("menu: screen %q sets HomeAfter without Inline", s.Label)
	}
	return nil
}

func validateButton(b Button) error {
	if strings.TrimSpace(b.Label) == "" {
		return fmt.Errorf("menu: button label is empty")
	}
	if b.Label == BackLabel || b.Label == HomeLabel {
		if b.Target != nil || b.Action != nil {
			return fmt.Errorf("menu: reserved button %q cannot carry a target or action", b.Label)
		}
		return nil
	}
	if b.Target != nil && b.Action != nil {
		return fmt.Errorf("menu: button %q has both a target and an action", b.Label)
	}
	if b.Target == nil && b.Action == nil {
		return fmt.Errorf("menu: button %q has neither a target nor an action", b.Label)
	}
	return nil
}

// collectScreens walks the tree from root following button targets and
// validates every screen and button it meets. Discovery is render-based:
// targets hidden by the current render are not collected.
func collectScreens(ctx context.Context, root *Screen) (map[string]*Screen, error) {
	if root == nil {
		return nil, fmt.Errorf("menu: nil home screen")
	}
	if root.Inline {
		return nil, fmt.Errorf("menu: home screen %q cannot be inline", root.Label)
	}

	screens := make(map[string]*Screen)
	queue := []*Screen{root}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]

		if existing, ok := screens[s.Label]; ok {
			if existing != s {
				return nil, fmt.Errorf("menu: duplicate screen label %q", s.Label)
			}
			continue
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		screens[s.Label] = s

		_, buttons, err := s.Update(ctx)
		if err != nil {
			return nil, fmt.Errorf("menu: render %q: %w", s.Label, err)
		}
		for _, b := range buttons {
			if err := validateButton(b); err != nil {
				return nil, fmt.Errorf("menu: screen %q: %w", s.Label, err)
			}
			if b.Target != nil {
				queue = append(queue, b.Target)
			}
		}
	}
	return screens, nil
}

// buttonByLabel finds the button with the given label on one keyboard.
// Duplicate labels on a single keyboard are an error.
func buttonByLabel(buttons []Button, label string) (Button, error) {
	var found Button
	count := 0
	for _, b := range buttons {
		if b.Label == label {
			found = b
			count++
		}
	}
	switch count {
	case 0:
		return Button{}, ErrButtonNotFound
	case 1:
		return found, nil
	default:
		return Button{}, ErrAmbiguousLabel
	}
}
