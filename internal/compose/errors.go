package compose

import (
	"errors"
	"fmt"

	"termpost/internal/model"
)

var (
	ErrNotOpen           = errors.New("composer has no open conversation")
	ErrUploadsInProgress = errors.New("uploads still in progress")
	ErrAlreadySubmitting = errors.New("a submission is already in flight")
	ErrEmptyMessage      = errors.New("nothing to send")
	ErrPreviewMode       = errors.New("formatting is disabled while previewing")
)

// MessageTooLongError is the local validation failure shown before sending.
type MessageTooLongError struct {
	Length int
	Max    int
}

func (e *MessageTooLongError) Error() string {
	return fmt.Sprintf("your message is too long. character count: %d/%d", e.Length, e.Max)
}

// ServerError is the visible banner under the composer. SubmittedMessage is
// the text that produced it, used to tell whether later edits resolve it.
type ServerError struct {
	Message          string
	ServerErrorID    string
	SubmittedMessage string
	Err              error
}

func (e *ServerError) Error() string {
	return e.Message
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// IsInvalidSlashCommand reports whether the server rejected an unknown command.
func (e *ServerError) IsInvalidSlashCommand() bool {
	return e != nil && e.ServerErrorID == model.ErrorIDCommandNotFound
}

func newServerError(err error, submitted string) *ServerError {
	if err == nil {
		return nil
	}
	var se *ServerError
	if errors.As(err, &se) {
		copied := *se
		if copied.SubmittedMessage == "" {
			copied.SubmittedMessage = submitted
		}
		return &copied
	}
	out := &ServerError{Message: err.Error(), SubmittedMessage: submitted, Err: err}
	if appErr, ok := model.AsAppError(err); ok {
		out.Message = appErr.Message
		out.ServerErrorID = appErr.ServerErrorID
	}
	return out
}
