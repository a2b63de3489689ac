package types

// API error codes, <area>_<http status>.
const (
	CodeAuthBadRequest   = "AUTH_400"
	CodeUnauthorized     = "AUTH_401"
	CodeForbidden        = "AUTH_403"
	CodeAccountLocked    = "AUTH_429"
	CodeLoginDisabled    = "AUTH_503"
	CodeSetupInvalid     = "SETUP_400"
	CodeSetupWrite       = "SETUP_500"
	CodeRegistersInvalid = "SUNSPEC_400"
	CodeGatewayDown      = "SUNSPEC_503"
	CodeRestartConflict  = "SYSTEM_409"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse wraps code and message in the error envelope shared by
// every endpoint. details is omitted when nil.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}}
}
