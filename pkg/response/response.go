package response

// Response represents a standard API response format
type Response struct {
	Status     string         `json:"status"`      // "success" or "error"
	StatusCode int            `json:"status_code"` // HTTP status code
	Data       interface{}    `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Code       string         `json:"code,omitempty"`    // machine-readable error kind
	Details    map[string]any `json:"details,omitempty"` // e.g. available stock on a rejected cart
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// ErrorWithCode returns an error response carrying a machine-readable code and context
func ErrorWithCode(statusCode int, code, err string, details map[string]any) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
		Code:       code,
		Details:    details,
	}
}

// Page wraps a paginated list
type Page struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}
