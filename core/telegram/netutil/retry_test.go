package netutil

import (
	"errors"
	"net"
	"net/url"
	"testing"
)

type transientError struct{}

func (transientError) Error() string   { return "transient" }
func (transientError) Timeout() bool   { return true }
func (transientError) Temporary() bool { return true }

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("bad request"), false},
		{"timeout", transientError{}, true},
		{"dial failure", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"read failure", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}, false},
		{"wrapped timeout", &url.Error{Op: "Post", URL: "https://api.telegram.org", Err: transientError{}}, true},
	}
	for _, tc := range cases {
		if got := ShouldRetry(tc.err); got != tc.want {
			t.Errorf("%s: ShouldRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}
