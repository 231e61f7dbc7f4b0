package services

import (
	"errors"
	"strings"

	"dessert-admin/api"
)

var (
	// ErrLocked means the order is no longer pending on the server.
	ErrLocked = errors.New("pedido bloqueado")
	// ErrNotLoggedIn is returned when no session is active.
	ErrNotLoggedIn = errors.New("Escribe el PIN Admin.")
	// ErrOrderNotFound means the order is not in the local pending collection.
	ErrOrderNotFound = errors.New("pedido no encontrado")
	// ErrGateNotReady is returned when confirming before the countdown finished.
	ErrGateNotReady = errors.New("la confirmación aún no está habilitada")
)

// ValidationError is raised before any network call when input is incomplete.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErr(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// LockedError keeps the server's wording while matching ErrLocked.
type LockedError struct {
	Message string
}

func (e *LockedError) Error() string { return e.Message }

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

var lockedMarkers = []string{
	"no está pendiente",
	"no esta pendiente",
	"locked",
	"bloquead",
	"ya fue pagado",
	"ya está pagado",
	"ya fue cancelado",
	"ya está cancelado",
	"not pending",
}

// asLocked turns a server error whose message says the order is no longer
// pending into a LockedError. Other errors pass through.
func asLocked(err error) error {
	var serr *api.ServerError
	if !errors.As(err, &serr) {
		return err
	}
	msg := strings.ToLower(serr.Message)
	for _, m := range lockedMarkers {
		if strings.Contains(msg, m) {
			return &LockedError{Message: serr.Message}
		}
	}
	return err
}

// StatusText renders err the way the operator sees it in the status line.
func StatusText(err error) string {
	if err == nil {
		return ""
	}
	return "❌ " + err.Error()
}
