package predict

import "fmt"

// TransportError means no response was received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "prediction request failed: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response or a 2xx body that is not valid JSON.
// Message holds the server's "error" field and may be empty.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("prediction server error %d", e.StatusCode)
	}
	return fmt.Sprintf("prediction server error %d: %s", e.StatusCode, e.Message)
}
