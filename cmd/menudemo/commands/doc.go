// Package commands defines the menudemo CLI.
//
// The run command loads configuration, initializes the logger and session
// store through the shared bootstrap, and hands a screen factory to a menu
// session manager wired into the Telegram runtime. A small chi server
// exposes /health for liveness probes. The version command prints build
// information stamped at link time.
package commands
