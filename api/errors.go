package api

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned once the 429 retry budget is exhausted.
var ErrRateLimited = errors.New("demasiadas solicitudes, intenta de nuevo en unos segundos")

// ServerError carries the message the API returned with ok:false or a non-2xx status.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

// NetworkError wraps a transport failure where no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("error de red: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DecodeError means the server accepted the call but its response body could
// not be read into the expected shape.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("respuesta inválida del servidor: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
