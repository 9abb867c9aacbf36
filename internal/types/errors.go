package types

import "fmt"

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components use these instead of hardcoded strings
// so logs and delivery records stay greppable.
const (
	// Data absence -- not failures; a missing window yields "no verdict".
	ErrCodeNoForecastData ErrorCode = "data_no_forecast_window"

	// Upstream collaborators.
	ErrCodeUpstreamWeather     ErrorCode = "upstream_weather_unavailable"
	ErrCodeUpstreamModel       ErrorCode = "upstream_model_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeModelUnparseable    ErrorCode = "model_response_unparseable"

	// Delivery.
	ErrCodeDeliveryFailed ErrorCode = "delivery_failed"

	// Internal.
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"

	// Configuration.
	ErrCodeConfigInvalid ErrorCode = "config_invalid"
)

// AppError is the standard application error type. Domain errors are
// expressed as AppError to enable consistent categorization and error
// chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}
