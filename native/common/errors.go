package common

import "errors"

// Roots of the ledger's failure taxonomy. Every error returned by an engine
// matches exactly one of them through errors.Is.
var (
	ErrPermissionDenied      = errors.New("permission denied")
	ErrSignatureInvalid      = errors.New("signature invalid")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrRecipientNotAllowed   = errors.New("recipient not allowed")
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrMigrationPrecondition = errors.New("migration precondition failed")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

// Unwrap exposes the taxonomy root.
func (e *kindError) Unwrap() error { return e.kind }

// NewKind returns a sentinel that matches both itself and root under
// errors.Is.
func NewKind(root error, msg string) error {
	return &kindError{msg: msg, kind: root}
}

// Kind reports the taxonomy root err belongs to, or nil when it is not a
// ledger error.
func Kind(err error) error {
	for _, root := range []error{
		ErrPermissionDenied,
		ErrSignatureInvalid,
		ErrInsufficientFunds,
		ErrRecipientNotAllowed,
		ErrInvalidConfiguration,
		ErrMigrationPrecondition,
		ErrModulePaused,
	} {
		if errors.Is(err, root) {
			return root
		}
	}
	return nil
}
