package commands

import (
	"context"
	"sync"
	"time"

	"github.com/m3rciful/telemenu/core/telegram/format"
	"github.com/m3rciful/telemenu/menu"
)

// updateHub fans a periodic tick out to one refresh callback per chat, the
// way a data source would push changes into live app messages.
type updateHub struct {
	mu  sync.Mutex
	fns map[int64]func(context.Context)
}

func newUpdateHub() *updateHub {
	return &updateHub{fns: make(map[int64]func(context.Context))}
}

func (h *updateHub) Set(chatID int64, fn func(context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns[chatID] = fn
}

// Run invokes every registered callback on each tick until ctx is done.
func (h *updateHub) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			fns := make([]func(context.Context), 0, len(h.fns))
			for _, fn := range h.fns {
				fns = append(fns, fn)
			}
			h.mu.Unlock()
			for _, fn := range fns {
				fn(ctx)
			}
		}
	}
}

// demoScreens builds the demo tree: a start menu with a one-shot action
// screen and a second menu leading to a live options screen whose keyboard
// mutates as buttons toggle the playback flag.
func demoScreens(hub *updateHub) menu.ScreenFactory {
	return func(nav *menu.Navigator) (*menu.Screen, error) {
		playing := true

		action := &menu.Screen{
			Label:     "action",
			Inline:    true,
			HomeAfter: true,
			Expiry:    5 * time.Second,
			Update: func(ctx context.Context) (string, []menu.Button, error) {
				return "<code>Action!</code>", nil, nil
			},
		}

		toggle := func(ctx context.Context) (string, error) {
			playing = !playing
			return "option selected!", nil
		}

		options := &menu.Screen{
			Label:  "options",
			Inline: true,
			Update: func(ctx context.Context) (string, []menu.Button, error) {
				playLabel := format.Emojize("arrow_forward")
				if !playing {
					playLabel = format.Emojize("pause_button")
				}
				buttons := []menu.Button{
					menu.Notify(playLabel, toggle),
					menu.Notify(format.Emojize("twisted_rightwards_arrows"), toggle),
					menu.Photo(format.Emojize("chart_with_upwards_trend"), func(ctx context.Context) (string, error) {
						playing = !playing
						return "resources/stats_default.png", nil
					}),
					menu.Photo(format.Emojize("chart_with_downwards_trend"), func(ctx context.Context) (string, error) {
						// No picture for this one; the configured default is sent.
						playing = !playing
						return "", nil
					}),
					menu.Post(format.Emojize("door"), func(ctx context.Context) (string, error) {
						playing = !playing
						return format.FormatListToHTML([]format.ListItem{
							{Title: "text1", Value: "value1"},
							{Title: "text2", Value: "value2"},
						}), nil
					}),
					menu.Notify(format.Emojize("sound"), toggle),
					menu.Notify(format.Emojize("loud_sound"), toggle),
				}
				return "Status updated!", buttons, nil
			},
		}

		second := &menu.Screen{
			Label: "second_menu",
			Update: func(ctx context.Context) (string, []menu.Button, error) {
				return "Second message", []menu.Button{
					menu.Goto("Option", options),
					menu.Goto("Action", action),
					menu.Back(),
					menu.Home(),
				}, nil
			},
		}

		start := &menu.Screen{
			Label: "start",
			Update: func(ctx context.Context) (string, []menu.Button, error) {
				return "Start message!", []menu.Button{
					menu.Goto("Action", action),
					menu.Goto("Second menu", second),
				}, nil
			},
		}

		if hub != nil {
			hub.Set(nav.ChatID(), func(ctx context.Context) {
				playing = !playing
				_, _ = nav.Refresh(ctx, options)
			})
		}

		return start, nil
	}
}
