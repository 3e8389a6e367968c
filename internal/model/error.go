package model

import (
	"fmt"
)

type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeInternal           Code = "INTERNAL"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func newError(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

var (
	// Unknown conversation and non-participant access are deliberately indistinguishable.
	ErrorConversationNotFoundOrForbidden = newError(CodeNotFound, "conversation not found")

	ErrorListingNotFound            = newError(CodeNotFound, "listing not found")
	ErrorListingInactive            = newError(CodeFailedPrecondition, "listing is not active")
	ErrorListingNoLongerExists      = newError(CodeFailedPrecondition, "listing no longer exists")
	ErrorListingNoLongerActive      = newError(CodeFailedPrecondition, "listing is no longer active")
	ErrorSelfConversationNotAllowed = newError(CodeInvalidArgument, "cannot start a conversation with yourself")

	ErrorMessageNotFound    = newError(CodeNotFound, "message not found")
	ErrorNotMessageSender   = newError(CodePermissionDenied, "only the sender may edit a message")
	ErrorEmptyContent       = newError(CodeInvalidArgument, "message content is required")
	ErrorUnknownType        = newError(CodeInvalidArgument, "unknown message type")
	ErrorReservedType       = newError(CodeInvalidArgument, "message type is reserved for the server")
	ErrorUserNotFound       = newError(CodeNotFound, "user not found")
	ErrorInvalidPageRequest = newError(CodeInvalidArgument, "invalid page request")
)
