package chat

import (
	"bytes"
	"fmt"
	"strings"
)

// Server → client notices.
const (
	Welcome      = "Welcome to the chat!"
	InvalidLogin = "Invalid login"
)

// LoginPrefix introduces the registration line: login:<name>.
const LoginPrefix = "login:"

// ParseLogin extracts the requested name from a login line.  ok is false
// when the prefix is missing or the name is empty.
func ParseLogin(line string) (name string, ok bool) {
	name, found := strings.CutPrefix(line, LoginPrefix)
	if !found || name == "" {
		return "", false
	}
	return name, true
}

// NameTaken is sent before the server drops a client whose name clashes.
func NameTaken(name string) string {
	return fmt.Sprintf("Логин %s занят, попробуйте другой", name)
}

// NewUser announces a successful registration to the whole Room.
func NewUser(name string) string {
	return "New user: " + name
}

// FormatChat renders a chat line as it is broadcast and stored.
func FormatChat(name, text string) string {
	return name + ": " + text
}

// trimCR drops the carriage return left over by CRLF clients.
func trimCR(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte{'\r'})
}
