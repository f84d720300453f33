// Package version holds the tracey version string.
package version

// Version is set at build time via ldflags.
var Version = "0.4.0-dev"

// Protocol is the daemon wire-protocol version. A client whose protocol
// does not match the one recorded in daemon.pid must not talk to that
// daemon; it should kill it and start a fresh one.
const Protocol = 3
