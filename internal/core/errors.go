package core

// Error codes surfaced to clients in error frames.
const (
	ErrCodeProtocol      = "protocol_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeAuthorization = "authorization_error"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodePersistence   = "persistence_failure"
)

// CoreError wraps a code and human-readable detail. All of these are
// non-fatal for the connection; only authentication failures close it,
// and those never reach the core.
type CoreError struct {
	Code   string
	Detail string
}

func (e *CoreError) Error() string {
	return e.Detail
}

func coreError(code, detail string) *CoreError {
	return &CoreError{Code: code, Detail: detail}
}
