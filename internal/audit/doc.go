// Package audit records security relevant account operations.
//
// The Engine decides which events to emit; this package only buffers them and
// hands them to a Sink. Events never carry passwords, token values or
// recovery codes.
package audit
