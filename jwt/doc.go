// Package jwt signs and verifies the token values handed out by goAccount.
//
// Every value carries subject, token type, jti, issued-at and expiry claims and
// is rejected on algorithm mismatch, issuer or audience mismatch, or expiry.
package jwt
