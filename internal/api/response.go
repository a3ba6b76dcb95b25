package api

// Response is the envelope every endpoint returns.
type Response struct {
	Data       any    `json:"data,omitempty"`
	Status     string `json:"status"` // "success" or "error"
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code"`
}

// Success wraps data in a success envelope.
func Success(statusCode int, data any) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error wraps a message in an error envelope.
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}
