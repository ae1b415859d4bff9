// Package internal groups helpers private to goAccount.
//
// # Sub-packages
//
//   - audit: event model, sinks and the async Dispatcher
//   - keylock: per-key mutex for (user, token type) critical sections
//   - logging: zap logger construction and shared field helpers
package internal
