package services

import "errors"

// Kind classifies a rejected operation.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	}
	return "unknown"
}

// Error is returned for every rejected poll operation. A rejected call never
// leaves partial state behind.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches the kind-level sentinels (ErrValidation, ErrNotFound,
// ErrConflict) in addition to identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t == e
}

// Kind-level sentinels, for use with errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
)

var (
	ErrPollNotFound        = &Error{Kind: KindNotFound, Code: "poll_not_found", Message: "poll not found"}
	ErrQuestionNotFound    = &Error{Kind: KindNotFound, Code: "question_not_found", Message: "question not found"}
	ErrParticipantNotFound = &Error{Kind: KindNotFound, Code: "participant_not_found", Message: "participant not found"}
	ErrQuestionActive      = &Error{Kind: KindConflict, Code: "active_question_exists", Message: "a question is already active"}
	ErrNoActiveQuestion    = &Error{Kind: KindConflict, Code: "no_active_question", Message: "no active question"}
	ErrAlreadyAnswered     = &Error{Kind: KindConflict, Code: "already_answered", Message: "already answered"}
	ErrInvalidOption       = &Error{Kind: KindValidation, Code: "invalid_option", Message: "invalid option"}
)

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Code: "validation_error", Message: msg}
}

// KindOf returns the kind of err, or 0 when err is not a poll error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the machine-readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		return e.Kind.String()
	}
	return "internal_error"
}
