package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultOperator is recorded in audit fields when no operator name was given.
const DefaultOperator = "ADMIN"

// ErrNotFound is returned by Load when nothing was saved.
var ErrNotFound = errors.New("session not found")

// Session holds the shared admin PIN and the operator name sent with every
// request. It is created on login and discarded on logout.
type Session struct {
	PIN        string    `json:"admin_pin"`
	Operator   string    `json:"operator"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// New trims its inputs and applies the default operator.
func New(pin, operator string, now time.Time) Session {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		operator = DefaultOperator
	}
	return Session{PIN: strings.TrimSpace(pin), Operator: operator, LoggedInAt: now}
}

// Store is the key-value place a session survives restarts in.
type Store interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

// Memory keeps the session in process only.
type Memory struct {
	mu sync.Mutex
	s  *Session
}

func (m *Memory) Load(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return Session{}, ErrNotFound
	}
	return *m.s, nil
}

func (m *Memory) Save(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = &s
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = nil
	return nil
}
