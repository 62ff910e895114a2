package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown                       = "UNKNOWN"
	CodeUserNotFound                  = "USER_NOT_FOUND"
	CodeUserNotAuthorized             = "USER_NOT_AUTHORIZED"
	CodeUserInvalid                   = "USER_INVALID"
	CodePostingNotFound               = "POSTING_NOT_FOUND"
	CodePostingNotAuthorized          = "POSTING_NOT_AUTHORIZED"
	CodePostingClosed                 = "POSTING_CLOSED"
	CodePostingInvalidCapacity        = "POSTING_INVALID_CAPACITY"
	CodePostingTitleEmpty             = "POSTING_TITLE_EMPTY"
	CodeParticipationNotFound         = "PARTICIPATION_NOT_FOUND"
	CodeParticipationAlreadyJoined    = "PARTICIPATION_ALREADY_JOINED"
	CodeParticipationAlreadyApproved  = "PARTICIPATION_ALREADY_APPROVED"
	CodeParticipationAlreadyRejected  = "PARTICIPATION_ALREADY_REJECTED"
	CodeParticipationCapacityExceeded = "PARTICIPATION_MAX_CAPACITY_EXCEEDED"
	CodeStorageLockTimeout            = "STORAGE_LOCK_TIMEOUT"
)

// AllCodes lists every code that must have a message in the base locale.
var AllCodes = []Code{
	CodeUnknown,
	CodeUserNotFound,
	CodeUserNotAuthorized,
	CodeUserInvalid,
	CodePostingNotFound,
	CodePostingNotAuthorized,
	CodePostingClosed,
	CodePostingInvalidCapacity,
	CodePostingTitleEmpty,
	CodeParticipationNotFound,
	CodeParticipationAlreadyJoined,
	CodeParticipationAlreadyApproved,
	CodeParticipationAlreadyRejected,
	CodeParticipationCapacityExceeded,
	CodeStorageLockTimeout,
}
