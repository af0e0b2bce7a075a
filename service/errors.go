package service

import "fmt"

// Kind classifies a service error for translation to a protocol status.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindGone
	KindPrecondition
	KindInternal
)

// Warning texts form a fixed vocabulary appended to anomalous responses.
const (
	WarnUpdatedWithModifications = "The Workitem was updated with modifications"
	WarnUnclaimedWorkitem        = "The target URI did not reference a claimed Workitem"
	WarnInconsistentWithState    = "The submitted request is inconsistent with the current state of the Workitem"
	WarnMissingTransactionUID    = "The Transaction UID is missing"
	WarnIncorrectTransactionUID  = "The Transaction UID is incorrect"
	WarnInconsistentUPSState     = "The submitted request is inconsistent with the state of the UPS Instance"
	WarnAlreadyCompleted         = "The UPS is already in the requested state of COMPLETED"
	WarnAlreadyCanceled          = "The UPS is already in the requested state of CANCELED"
)

// Error is a service-level failure carrying its kind and any Warning texts
// the response should surface.
type Error struct {
	Kind     Kind
	Message  string
	Warnings []string
}

func (e *Error) Error() string { return e.Message }

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(msg string, warnings ...string) *Error {
	return &Error{Kind: KindConflict, Message: msg, Warnings: warnings}
}

func gone(msg string, warnings ...string) *Error {
	return &Error{Kind: KindGone, Message: msg, Warnings: warnings}
}

func precondition(msg string, warnings ...string) *Error {
	return &Error{Kind: KindPrecondition, Message: msg, Warnings: warnings}
}

func internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: err.Error()}
}
