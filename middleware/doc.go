// Package middleware exposes net/http adapters around goAccount.Engine.
//
// # Guards
//
//   - [RequireAccess] verifies the bearer access value only. No storage call.
//   - [RequireAccount] also loads the account, so cancelled users are rejected
//     before their access value expires.
//
// Both read the Authorization header and store the authenticated user id in
// the request context, readable with [UserIDFromContext].
//
// # Cookies
//
// [Cookies] attaches a goAccount.RequestContext to each request and writes
// the cookies the engine queued on it before the response header is sent.
//
// This package translates HTTP semantics into Engine calls and never
// decides anything about credentials itself.
package middleware
