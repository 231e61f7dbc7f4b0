package services

import (
	"strings"
	"sync"
	"time"
)

// Action is the destructive operation a gate protects.
type Action string

const (
	ActionPay    Action = "pay"
	ActionCancel Action = "cancel"
)

const (
	OtherOption = "Otro"

	DefaultConfirmSeconds = 3

	tickInterval = time.Second
)

var PaymentMethods = []string{"Nequi", "Daviplata", "Bancolombia", "Davivienda", "Efectivo", OtherOption}

var CancelReasons = []string{"Cliente canceló", "Sin stock", "Pedido duplicado", OtherOption}

type GateState int

const (
	GateIdle GateState = iota
	GateAwaitingInput
	GateCountingDown
	GateReady
	GateExecuting
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateAwaitingInput:
		return "awaiting_input"
	case GateCountingDown:
		return "counting_down"
	case GateReady:
		return "ready"
	case GateExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// GateInput holds the operator's answers in the confirm modal. Method and
// Reference are used for payment, Reason for cancellation; Note is the
// free text required when "Otro" is selected.
type GateInput struct {
	Method    string
	Reference string
	Reason    string
	Note      string
}

// Validate reports the first missing field for the given action.
func (in GateInput) Validate(action Action) error {
	switch action {
	case ActionPay:
		if strings.TrimSpace(in.Method) == "" {
			return validationErr("method", "Selecciona el método de pago.")
		}
		if strings.TrimSpace(in.Reference) == "" {
			return validationErr("reference", "Escribe la referencia del pago.")
		}
		if in.Method == OtherOption && strings.TrimSpace(in.Note) == "" {
			return validationErr("note", "Describe el método de pago.")
		}
	case ActionCancel:
		if strings.TrimSpace(in.Reason) == "" {
			return validationErr("reason", "Selecciona el motivo de cancelación.")
		}
		if in.Reason == OtherOption && strings.TrimSpace(in.Note) == "" {
			return validationErr("note", "Describe el motivo de cancelación.")
		}
	}
	return nil
}

// PaymentMethod is the value sent as payment_method.
func (in GateInput) PaymentMethod() string {
	if in.Method == OtherOption {
		return OtherOption + ": " + strings.TrimSpace(in.Note)
	}
	return in.Method
}

// CancelReason is the value sent as cancel_reason.
func (in GateInput) CancelReason() string {
	if in.Reason == OtherOption {
		return strings.TrimSpace(in.Note)
	}
	return in.Reason
}

// GateSnapshot is a copy of the gate state for rendering.
type GateSnapshot struct {
	Action    Action
	State     GateState
	OrderID   string
	Remaining int
	Input     GateInput
}

// Gate keeps one irreversible action disabled until its inputs are valid and
// a countdown has elapsed. Any input change restarts the wait.
type Gate struct {
	mu       sync.Mutex
	clock    Clock
	action   Action
	seconds  int
	onChange func(GateSnapshot)

	state     GateState
	orderID   string
	input     GateInput
	remaining int
	gen       uint64
	timer     Timer
}

func NewGate(action Action, clock Clock, seconds int) *Gate {
	if clock == nil {
		clock = RealClock{}
	}
	if seconds < 1 {
		seconds = DefaultConfirmSeconds
	}
	return &Gate{action: action, clock: clock, seconds: seconds}
}

// OnChange registers a callback invoked after every state change.
func (g *Gate) OnChange(f func(GateSnapshot)) {
	g.mu.Lock()
	g.onChange = f
	g.mu.Unlock()
}

func (g *Gate) Action() Action { return g.action }

func (g *Gate) Snapshot() GateSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Gate) snapshotLocked() GateSnapshot {
	return GateSnapshot{
		Action:    g.action,
		State:     g.state,
		OrderID:   g.orderID,
		Remaining: g.remaining,
		Input:     g.input,
	}
}

// Open targets the gate at an order. Switching orders resets to Idle first.
// Opening while executing is ignored.
func (g *Gate) Open(orderID string) {
	g.mu.Lock()
	if g.state == GateExecuting {
		g.mu.Unlock()
		return
	}
	g.resetLocked()
	g.orderID = orderID
	g.state = GateAwaitingInput
	g.mu.Unlock()
	g.notify()
}

// SetInput records new modal input. A change while counting down or ready
// drops back to AwaitingInput; valid input then starts a fresh countdown.
func (g *Gate) SetInput(in GateInput) {
	g.mu.Lock()
	if g.state == GateIdle || g.state == GateExecuting || in == g.input {
		g.mu.Unlock()
		return
	}
	g.input = in
	if g.state == GateCountingDown || g.state == GateReady {
		g.stopTimerLocked()
		g.state = GateAwaitingInput
		g.remaining = 0
	}
	if g.state == GateAwaitingInput && in.Validate(g.action) == nil {
		g.startCountdownLocked()
	}
	g.mu.Unlock()
	g.notify()
}

// Confirm moves Ready to Executing and returns the target and input.
func (g *Gate) Confirm() (GateSnapshot, error) {
	g.mu.Lock()
	if g.state != GateReady {
		g.mu.Unlock()
		return GateSnapshot{}, ErrGateNotReady
	}
	g.state = GateExecuting
	snap := g.snapshotLocked()
	g.mu.Unlock()
	g.notify()
	return snap, nil
}

// Finish ends an execution, successful or not, and closes the gate.
func (g *Gate) Finish() {
	g.Close()
}

// Close returns the gate to Idle and cancels any running countdown.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.state == GateIdle {
		g.mu.Unlock()
		return
	}
	g.resetLocked()
	g.mu.Unlock()
	g.notify()
}

func (g *Gate) resetLocked() {
	g.stopTimerLocked()
	g.state = GateIdle
	g.orderID = ""
	g.input = GateInput{}
	g.remaining = 0
}

func (g *Gate) stopTimerLocked() {
	g.gen++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Gate) startCountdownLocked() {
	g.stopTimerLocked()
	g.state = GateCountingDown
	g.remaining = g.seconds
	g.scheduleTickLocked()
}

func (g *Gate) scheduleTickLocked() {
	gen := g.gen
	g.timer = g.clock.AfterFunc(tickInterval, func() { g.tick(gen) })
}

func (g *Gate) tick(gen uint64) {
	g.mu.Lock()
	if gen != g.gen || g.state != GateCountingDown {
		g.mu.Unlock()
		return
	}
	g.remaining--
	if g.remaining <= 0 {
		g.remaining = 0
		g.state = GateReady
		g.timer = nil
	} else {
		g.scheduleTickLocked()
	}
	g.mu.Unlock()
	g.notify()
}

func (g *Gate) notify() {
	g.mu.Lock()
	f := g.onChange
	snap := g.snapshotLocked()
	g.mu.Unlock()
	if f != nil {
		f(snap)
	}
}
