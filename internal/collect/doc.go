// Package collect runs the chat conversation that turns a user's answers
// into a stored reminder entry.
package collect
