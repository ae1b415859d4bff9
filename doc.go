// Package goAccount is the credential and session core of an account
// service: password and TOTP logins, rotating refresh tokens carried in a
// cookie, single-use tokens for activation, email change and password
// reset, and account linking for third-party identity providers.
//
// An [Engine] is assembled with [New] and [Builder.Build] from a user
// directory, a token repository, a recovery code repository and a mailer.
// Adapters for each live under store/ and mail/. Engine methods are safe for
// concurrent use.
//
// # Cookies
//
// The engine never sees an http.Request. Entry points that read or write the
// refresh cookie take a [RequestContext] holding the incoming cookies and
// collecting the outgoing ones; the middleware package bridges it to
// net/http.
//
// # Errors
//
// Every returned error is an [Error] with a kind and a stable reason key
// meant for localization. Infrastructure failures are logged at the
// boundary and surface only as [ErrInternal].
package goAccount
