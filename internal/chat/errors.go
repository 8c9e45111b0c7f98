package chat

import "fmt"

// Error codes delivered on the "error" event. REST handlers map the same
// conditions to HTTP statuses.
const (
	CodeUnauthenticated   = "unauthenticated"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeValidationFailed  = "validation_failed"
	CodePersistenceFailed = "persistence_failed"
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
