// Package chat implements the line-based chat engine: a Session per
// connection that walks the login handshake, and a process-wide Room that
// owns membership, fans lines out to every member and replays recent
// history to newcomers.
//
// Sessions never write to their connection directly.  Every outbound line
// goes through a bounded per-session queue drained by a dedicated writer
// goroutine, so one stalled client cannot hold up the Room.  A member
// whose queue overflows is evicted and its connection closed.
package chat
