// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// User errors
	CodeUserNotFound      Code = "USER_NOT_FOUND"
	CodeUserNotAuthorized Code = "USER_NOT_AUTHORIZED"
	CodeUserInvalid       Code = "USER_INVALID"

	// Posting errors
	CodePostingNotFound        Code = "POSTING_NOT_FOUND"
	CodePostingNotAuthorized   Code = "POSTING_NOT_AUTHORIZED"
	CodePostingClosed          Code = "POSTING_CLOSED"
	CodePostingInvalidCapacity Code = "POSTING_INVALID_CAPACITY"
	CodePostingTitleEmpty      Code = "POSTING_TITLE_EMPTY"

	// Participation errors
	CodeParticipationNotFound         Code = "PARTICIPATION_NOT_FOUND"
	CodeParticipationAlreadyJoined    Code = "PARTICIPATION_ALREADY_JOINED"
	CodeParticipationAlreadyApproved  Code = "PARTICIPATION_ALREADY_APPROVED"
	CodeParticipationAlreadyRejected  Code = "PARTICIPATION_ALREADY_REJECTED"
	CodeParticipationCapacityExceeded Code = "PARTICIPATION_MAX_CAPACITY_EXCEEDED"

	// Storage errors
	CodeStorageLockTimeout Code = "STORAGE_LOCK_TIMEOUT"
)

// Kind groups codes into the classes callers branch on.
type Kind string

const (
	KindInternal        Kind = "internal"
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindUnauthorized    Kind = "unauthorized"
	KindConflict        Kind = "conflict"
	// KindTransient is the only kind that is safe to retry.
	KindTransient Kind = "transient"
)

// Kind returns the error class of the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeUserInvalid,
		CodePostingInvalidCapacity,
		CodePostingTitleEmpty:
		return KindInvalidArgument

	case CodeUserNotFound,
		CodePostingNotFound,
		CodeParticipationNotFound:
		return KindNotFound

	case CodeUserNotAuthorized,
		CodePostingNotAuthorized:
		return KindUnauthorized

	case CodePostingClosed,
		CodeParticipationAlreadyJoined,
		CodeParticipationAlreadyApproved,
		CodeParticipationAlreadyRejected,
		CodeParticipationCapacityExceeded:
		return KindConflict

	case CodeStorageLockTimeout:
		return KindTransient

	default:
		return KindInternal
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c.Kind() {
	// InvalidArgument - validation failures, bad input
	case KindInvalidArgument:
		return codes.InvalidArgument

	// NotFound - resource doesn't exist
	case KindNotFound:
		return codes.NotFound

	// PermissionDenied - caller is not allowed to act on the resource
	case KindUnauthorized:
		return codes.PermissionDenied

	// AlreadyExists - unique resource constraint
	// FailedPrecondition - state doesn't allow operation
	case KindConflict:
		if c == CodeParticipationAlreadyJoined {
			return codes.AlreadyExists
		}
		return codes.FailedPrecondition

	// Unavailable - retryable contention
	case KindTransient:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
