// Package identity answers "who is the current user" for the messaging core.
//
// Users are established from PASETO v4.public access tokens issued elsewhere; this
// package only verifies them (and can issue them for local tooling and tests).
// Display identity travels with each message as SenderID and SenderName.
package identity
