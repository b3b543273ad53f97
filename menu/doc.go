// Package menu turns a declarative screen tree into a working Telegram
// menu bot: reply-keyboard menus stacked per chat with Back/Home
// navigation, and inline app messages that stay live in the chat until
// an inactivity expiry sweeps them away.
//
// Screens are declared once through a ScreenFactory and rebuilt per
// session, so their buttons can close over per-chat state. A
// SessionManager owns one Navigator per chat, exposes the bot routes
// that feed them, and can persist sessions through a storage.Store so
// menus survive restarts.
package menu
