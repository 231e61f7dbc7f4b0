package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dessert-admin/api"
	"dessert-admin/logger"
	"dessert-admin/models"
)

type EventKind string

const (
	EventUpdated   EventKind = "updated"
	EventPaid      EventKind = "paid"
	EventCancelled EventKind = "cancelled"
)

// OrderEvent describes a mutation the server accepted.
type OrderEvent struct {
	Kind     EventKind
	Order    models.Order
	Operator string
	At       time.Time
}

// Notifier receives accepted mutations. Failures are logged, never surfaced.
type Notifier interface {
	Notify(ctx context.Context, ev OrderEvent) error
}

type MachineOptions struct {
	Clock          Clock
	Logger         *logger.Logger
	ConfirmSeconds int
	Notifiers      []Notifier
}

// OrderStateMachine runs update, mark-paid and cancel against the store:
// local state changes first, the server call follows, and a delayed
// re-list reconciles whatever happened.
type OrderStateMachine struct {
	store      *OrderStore
	clock      Clock
	log        *logger.Logger
	notifiers  []Notifier
	payGate    *Gate
	cancelGate *Gate
}

func NewOrderStateMachine(store *OrderStore, opts MachineOptions) *OrderStateMachine {
	m := &OrderStateMachine{
		store:     store,
		clock:     opts.Clock,
		log:       opts.Logger,
		notifiers: opts.Notifiers,
	}
	if m.clock == nil {
		m.clock = store.clock
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	m.payGate = NewGate(ActionPay, m.clock, opts.ConfirmSeconds)
	m.cancelGate = NewGate(ActionCancel, m.clock, opts.ConfirmSeconds)
	return m
}

func (m *OrderStateMachine) Store() *OrderStore { return m.store }

func (m *OrderStateMachine) PayGate() *Gate { return m.payGate }

func (m *OrderStateMachine) CancelGate() *Gate { return m.cancelGate }

// BeginEdit opens an edit session on a pending order.
func (m *OrderStateMachine) BeginEdit(orderID string) (*EditSession, error) {
	o, ok := m.store.Get(orderID)
	if !ok {
		return nil, ErrOrderNotFound
	}
	return BeginEdit(&o)
}

// SaveEdit sends an edit session's working copy.
func (m *OrderStateMachine) SaveEdit(ctx context.Context, es *EditSession) error {
	return m.Update(ctx, es.OrderID, es.Fields(), es.Items())
}

func validateUpdate(f models.OrderFields, items []models.LineItem) error {
	if strings.TrimSpace(f.CustomerName) == "" {
		return validationErr("customer_name", "El nombre es obligatorio.")
	}
	if strings.TrimSpace(f.Phone) == "" {
		return validationErr("phone", "El teléfono es obligatorio.")
	}
	if strings.TrimSpace(f.Address) == "" {
		return validationErr("address_text", "La dirección es obligatoria.")
	}
	if _, units := Totals(items); units == 0 {
		return validationErr("items", "El pedido debe tener al menos una unidad.")
	}
	return nil
}

// Update persists edited fields and items of a pending order. On success
// the local copy is patched right away; a rejected edit leaves it untouched.
func (m *OrderStateMachine) Update(ctx context.Context, orderID string, fields models.OrderFields, items []models.LineItem) error {
	sess, ok := m.store.Session()
	if !ok {
		return ErrNotLoggedIn
	}
	current, ok := m.store.Get(orderID)
	if !ok {
		return ErrOrderNotFound
	}
	if current.Status.Terminal() {
		return &LockedError{Message: fmt.Sprintf("El pedido %s ya está %s.", orderID, current.Status)}
	}
	if err := validateUpdate(fields, items); err != nil {
		return err
	}

	wire := UpdateItems(items)
	req := api.UpdateOrderRequest{
		Auth:         api.Auth{AdminPIN: sess.PIN, Operator: sess.Operator},
		OrderID:      orderID,
		CustomerName: strings.TrimSpace(fields.CustomerName),
		Phone:        strings.TrimSpace(fields.Phone),
		Address:      strings.TrimSpace(fields.Address),
		MapsLink:     strings.TrimSpace(fields.MapsLink),
		Email:        strings.TrimSpace(fields.Email),
		WAOptIn:      fields.WAOptIn,
		Notes:        strings.TrimSpace(fields.Notes),
		Items:        wire,
	}
	if err := m.store.api.Send(ctx, api.ActionUpdateOrder, req, nil); err != nil {
		err = asLocked(err)
		if !errors.Is(err, ErrLocked) {
			m.store.ScheduleSoftRefresh()
		}
		m.log.Warn("update failed", "order_id", orderID, "error", err)
		return err
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	patched, _ := m.store.patch(orderID, func(o *models.Order) {
		o.ApplyFields(models.OrderFields{
			CustomerName: req.CustomerName,
			Phone:        req.Phone,
			Address:      req.Address,
			MapsLink:     req.MapsLink,
			Email:        req.Email,
			WAOptIn:      req.WAOptIn,
			Notes:        req.Notes,
		})
		o.ItemsJSON = raw
		m.store.rec.Apply(o)
	})
	m.store.InvalidateHistory()
	m.store.ScheduleSoftRefresh()
	m.log.Info("order updated", "order_id", orderID, "units", patched.TotalUnits, "subtotal", patched.Subtotal)
	m.publish(ctx, EventUpdated, patched, sess.Operator)
	return nil
}

// MarkPaid moves a pending order to Pagado. method is the wire value, see
// GateInput.PaymentMethod.
func (m *OrderStateMachine) MarkPaid(ctx context.Context, orderID, method, reference string) error {
	method = strings.TrimSpace(method)
	reference = strings.TrimSpace(reference)
	if method == "" {
		return validationErr("method", "Selecciona el método de pago.")
	}
	if reference == "" {
		return validationErr("reference", "Escribe la referencia del pago.")
	}
	return m.transition(ctx, orderID, models.StatusPaid, func(auth api.Auth) (string, any) {
		return api.ActionMarkPaid, api.MarkPaidRequest{
			Auth:          auth,
			OrderID:       orderID,
			PaymentMethod: method,
			PaymentRef:    reference,
		}
	}, func(o *models.Order, operator string, at time.Time) {
		o.PaidBy = operator
		o.PaidAt = at.Format(time.RFC3339)
		o.PaymentMethod = method
		o.PaymentRef = reference
	})
}

// Cancel moves a pending order to Cancelado.
func (m *OrderStateMachine) Cancel(ctx context.Context, orderID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return validationErr("reason", "Selecciona el motivo de cancelación.")
	}
	return m.transition(ctx, orderID, models.StatusCancelled, func(auth api.Auth) (string, any) {
		return api.ActionCancelOrder, api.CancelOrderRequest{
			Auth:         auth,
			OrderID:      orderID,
			CancelReason: reason,
		}
	}, func(o *models.Order, operator string, at time.Time) {
		o.CancelledBy = operator
		o.CancelledAt = at.Format(time.RFC3339)
		o.CancelReason = reason
	})
}

// transition removes the order locally before calling the server and always
// schedules a soft refresh afterwards, so a failed call heals itself.
func (m *OrderStateMachine) transition(
	ctx context.Context,
	orderID string,
	to models.PaymentStatus,
	request func(api.Auth) (string, any),
	audit func(o *models.Order, operator string, at time.Time),
) error {
	sess, ok := m.store.Session()
	if !ok {
		return ErrNotLoggedIn
	}
	order, ok := m.store.remove(orderID)
	if !ok {
		return ErrOrderNotFound
	}
	if !models.ValidStatusTransition(order.Status, to) {
		m.store.ScheduleSoftRefresh()
		return &LockedError{Message: fmt.Sprintf("El pedido %s ya está %s.", orderID, order.Status)}
	}

	action, payload := request(api.Auth{AdminPIN: sess.PIN, Operator: sess.Operator})
	err := m.store.api.Send(ctx, action, payload, nil)
	m.store.ScheduleSoftRefresh()
	if err != nil {
		err = asLocked(err)
		m.log.Warn("transition failed", "order_id", orderID, "to", to, "error", err)
		return err
	}
	m.store.InvalidateHistory()

	at := m.clock.Now()
	order.Status = to
	audit(&order, sess.Operator, at)
	m.log.Info("order transitioned", "order_id", orderID, "to", to, "operator", sess.Operator)

	kind := EventPaid
	if to == models.StatusCancelled {
		kind = EventCancelled
	}
	m.publish(ctx, kind, order, sess.Operator)
	return nil
}

// ConfirmPayment executes the payment the pay gate was armed for.
func (m *OrderStateMachine) ConfirmPayment(ctx context.Context) error {
	snap, err := m.payGate.Confirm()
	if err != nil {
		return err
	}
	defer m.payGate.Finish()
	return m.MarkPaid(ctx, snap.OrderID, snap.Input.PaymentMethod(), snap.Input.Reference)
}

// ConfirmCancel executes the cancellation the cancel gate was armed for.
func (m *OrderStateMachine) ConfirmCancel(ctx context.Context) error {
	snap, err := m.cancelGate.Confirm()
	if err != nil {
		return err
	}
	defer m.cancelGate.Finish()
	return m.Cancel(ctx, snap.OrderID, snap.Input.CancelReason())
}

func (m *OrderStateMachine) publish(ctx context.Context, kind EventKind, o models.Order, operator string) {
	if len(m.notifiers) == 0 {
		return
	}
	ev := OrderEvent{Kind: kind, Order: o, Operator: operator, At: m.clock.Now()}
	ctx = context.WithoutCancel(ctx)
	for _, n := range m.notifiers {
		nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := n.Notify(nctx, ev); err != nil {
			m.log.Warn("notify failed", "kind", kind, "order_id", o.ID, "error", err)
		}
		cancel()
	}
}

// Close shuts both gates and the store's timers.
func (m *OrderStateMachine) Close() {
	m.payGate.Close()
	m.cancelGate.Close()
	m.store.Close()
}
