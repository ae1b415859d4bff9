package goAccount

import "fmt"

// Message keys looked up in a MessageCatalog.
const (
	MsgActivateAccountSubject = "activateAccountEmailSubject"
	MsgActivateAccountBody    = "activateAccountEmailBody"
	MsgEmailChangeSubject     = "confirmAccountEmailChangeEmailSubject"
	MsgEmailChangeBody        = "confirmAccountEmailChangeEmailBody"
	MsgPasswordResetSubject   = "passwordResetEmailSubject"
	MsgPasswordResetBody      = "passwordResetEmailBody"
)

// MessageCatalog renders user-facing text for a key. Args are positional and
// key specific.
type MessageCatalog interface {
	Message(key string, args ...any) string
}

// CatalogMap is a MessageCatalog of fmt templates.
type CatalogMap map[string]string

// Message formats the template for key, or returns key when it is unknown.
func (m CatalogMap) Message(key string, args ...any) string {
	tmpl, ok := m[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// DefaultMessages is the English catalog.
//
// Activation and reset bodies take the link. The email change subject takes
// the app name and its body takes the old email, the new email and the link.
var DefaultMessages = CatalogMap{
	MsgActivateAccountSubject: "account activation",
	MsgActivateAccountBody:    "To activate your account, open the following link: %s",
	MsgEmailChangeSubject:     "%s email change confirmation",
	MsgEmailChangeBody:        "You requested to change your email from %s to %s. To confirm, open the following link: %s",
	MsgPasswordResetSubject:   "password reset",
	MsgPasswordResetBody:      "To reset your password, open the following link: %s",
}
