package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dessert-admin/api"
	"dessert-admin/logger"
	"dessert-admin/models"
	"dessert-admin/session"
)

const (
	DefaultSoftRefreshDelay = 800 * time.Millisecond
	DefaultHistoryTTL       = 60 * time.Second
)

var (
	// ErrListInFlight is returned when a Pending list is requested while
	// another one is still running. Callers treat it as a silent no-op.
	ErrListInFlight = errors.New("ya hay una consulta de pendientes en curso")
	// ErrLoginThrottled is returned while the PIN cooldown is running.
	ErrLoginThrottled = errors.New("demasiados intentos con PIN incorrecto")
)

// Sender is the part of api.Client the engine needs.
type Sender interface {
	Send(ctx context.Context, action string, payload any, out any) error
}

type StoreOptions struct {
	API        Sender
	Reconciler Reconciler
	// Sessions persists the login across restarts. Nil keeps it in memory.
	Sessions         session.Store
	Clock            Clock
	Logger           *logger.Logger
	SoftRefreshDelay time.Duration
	HistoryTTL       time.Duration
}

// OrderStore owns the session, the Pending collection and the history cache.
//
// Every Pending list and every local mutation takes a sequence number; a list
// response is applied only if nothing newer has been applied since it was
// issued.
type OrderStore struct {
	api          Sender
	rec          Reconciler
	sessions     session.Store
	clock        Clock
	log          *logger.Logger
	throttle     *LoginThrottle
	refreshDelay time.Duration
	historyTTL   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	sess    *session.Session
	pending []models.Order
	loaded  bool

	seq          uint64
	appliedSeq   uint64
	listingSeq   uint64
	refreshAgain bool

	history      []models.Order
	historyAt    time.Time
	historyValid bool
	historyGen   uint64

	refreshTimer Timer
	refreshGen   uint64

	onChange func()
}

func NewOrderStore(opts StoreOptions) *OrderStore {
	s := &OrderStore{
		api:          opts.API,
		rec:          opts.Reconciler,
		sessions:     opts.Sessions,
		clock:        opts.Clock,
		log:          opts.Logger,
		refreshDelay: opts.SoftRefreshDelay,
		historyTTL:   opts.HistoryTTL,
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.sessions == nil {
		s.sessions = &session.Memory{}
	}
	if s.refreshDelay <= 0 {
		s.refreshDelay = DefaultSoftRefreshDelay
	}
	if s.historyTTL <= 0 {
		s.historyTTL = DefaultHistoryTTL
	}
	if s.rec.Catalog == nil {
		s.rec.Catalog = models.DefaultCatalog()
	}
	s.throttle = NewLoginThrottle(s.clock)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// OnChange registers a callback run after the Pending collection changes.
func (s *OrderStore) OnChange(f func()) {
	s.mu.Lock()
	s.onChange = f
	s.mu.Unlock()
}

func (s *OrderStore) notify() {
	s.mu.Lock()
	f := s.onChange
	s.mu.Unlock()
	if f != nil {
		f()
	}
}

// Restore reloads a previously saved session. It reports false when there is
// nothing to restore.
func (s *OrderStore) Restore(ctx context.Context) (bool, error) {
	saved, err := s.sessions.Load(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if saved.PIN == "" {
		return false, nil
	}
	saved = session.New(saved.PIN, saved.Operator, saved.LoggedInAt)
	s.mu.Lock()
	s.resetLocked()
	s.sess = &saved
	s.mu.Unlock()
	s.log.Info("session restored", "operator", saved.Operator)
	return true, nil
}

// Login verifies the PIN by loading the Pending list and persists the session
// on success. A rejected PIN starts a growing cooldown.
func (s *OrderStore) Login(ctx context.Context, pin, operator string) error {
	if wait := s.throttle.WaitSeconds(); wait > 0 {
		return fmt.Errorf("%w: espera %d s", ErrLoginThrottled, wait)
	}
	sess := session.New(pin, operator, s.clock.Now())
	if sess.PIN == "" {
		return validationErr("pin", ErrNotLoggedIn.Error())
	}

	s.mu.Lock()
	s.resetLocked()
	s.sess = &sess
	s.mu.Unlock()

	if _, err := s.List(ctx, models.StatusPending); err != nil {
		var serr *api.ServerError
		if errors.As(err, &serr) {
			s.throttle.RecordFailed()
		}
		s.mu.Lock()
		s.resetLocked()
		s.sess = nil
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.throttle.RecordSuccess()

	if err := s.sessions.Save(ctx, sess); err != nil {
		s.log.Warn("save session failed", "error", err)
	}
	s.log.Info("logged in", "operator", sess.Operator)
	return nil
}

// Logout discards the session together with every cache and timer it owns.
func (s *OrderStore) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.resetLocked()
	s.sess = nil
	s.mu.Unlock()
	s.notify()
	if err := s.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.log.Info("logged out")
	return nil
}

func (s *OrderStore) resetLocked() {
	s.stopRefreshLocked()
	s.pending = nil
	s.loaded = false
	s.seq++
	s.appliedSeq = s.seq
	s.listingSeq = 0
	s.refreshAgain = false
	s.history = nil
	s.historyValid = false
	s.historyGen++
}

func (s *OrderStore) Session() (session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return session.Session{}, false
	}
	return *s.sess, true
}

func (s *OrderStore) LoggedIn() bool {
	_, ok := s.Session()
	return ok
}

// Pending returns a copy of the local Pending collection.
func (s *OrderStore) Pending() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrders(s.pending)
}

// Loaded reports whether a Pending list has been applied since login.
func (s *OrderStore) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *OrderStore) Get(orderID string) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(orderID); i >= 0 {
		return s.pending[i], true
	}
	return models.Order{}, false
}

func (s *OrderStore) indexLocked(orderID string) int {
	for i := range s.pending {
		if s.pending[i].ID == orderID {
			return i
		}
	}
	return -1
}

func cloneOrders(in []models.Order) []models.Order {
	if in == nil {
		return nil
	}
	out := make([]models.Order, len(in))
	copy(out, in)
	return out
}

// List fetches orders with the given status. A Pending list replaces the
// local collection, unless a newer list or a local mutation was applied
// while it was in flight. A second Pending list while one is running fails
// with ErrListInFlight without touching the network.
func (s *OrderStore) List(ctx context.Context, status models.PaymentStatus) ([]models.Order, error) {
	return s.list(ctx, status, false)
}

func (s *OrderStore) list(ctx context.Context, status models.PaymentStatus, soft bool) ([]models.Order, error) {
	sess, ok := s.Session()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	if status != models.StatusPending {
		return s.fetch(ctx, sess, status)
	}

	s.mu.Lock()
	if s.listingSeq != 0 {
		if soft {
			s.refreshAgain = true
		}
		s.mu.Unlock()
		return nil, ErrListInFlight
	}
	s.seq++
	seq := s.seq
	s.listingSeq = seq
	s.mu.Unlock()

	orders, err := s.fetch(ctx, sess, status)

	s.mu.Lock()
	if s.listingSeq == seq {
		s.listingSeq = 0
	}
	again := s.refreshAgain
	s.refreshAgain = false
	applied := false
	if err == nil && seq > s.appliedSeq {
		s.pending = cloneOrders(orders)
		s.appliedSeq = seq
		s.loaded = true
		applied = true
	}
	s.mu.Unlock()

	if err == nil && !applied {
		s.log.Debug("discarding stale pending list", "seq", seq)
	}
	if again {
		s.ScheduleSoftRefresh()
	}
	if applied {
		s.notify()
	}
	return orders, err
}

func (s *OrderStore) fetch(ctx context.Context, sess session.Session, status models.PaymentStatus) ([]models.Order, error) {
	var resp api.ListOrdersResponse
	req := api.ListOrdersRequest{AdminPIN: sess.PIN, PaymentStatus: status}
	if err := s.api.Send(ctx, api.ActionListOrders, req, &resp); err != nil {
		return nil, err
	}
	if resp.Skipped > 0 {
		s.log.Warn("skipped undecodable orders", "status", status, "count", resp.Skipped)
	}
	orders := resp.Orders
	if orders == nil {
		orders = []models.Order{}
	}
	for i := range orders {
		if orders[i].Status == "" {
			orders[i].Status = status
		}
		s.rec.Apply(&orders[i])
	}
	return orders, nil
}

// History returns Paid and Cancelled orders, newest first. The result is
// cached for the configured TTL.
func (s *OrderStore) History(ctx context.Context) ([]models.Order, error) {
	sess, ok := s.Session()
	if !ok {
		return nil, ErrNotLoggedIn
	}

	s.mu.Lock()
	if s.historyValid && s.clock.Now().Sub(s.historyAt) < s.historyTTL {
		out := cloneOrders(s.history)
		s.mu.Unlock()
		return out, nil
	}
	gen := s.historyGen
	s.mu.Unlock()

	paid, err := s.fetch(ctx, sess, models.StatusPaid)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.fetch(ctx, sess, models.StatusCancelled)
	if err != nil {
		return nil, err
	}
	merged := append(paid, cancelled...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedTime().After(merged[j].CreatedTime())
	})

	s.mu.Lock()
	// An invalidation while fetching means this result may already be stale.
	if gen == s.historyGen {
		s.history = cloneOrders(merged)
		s.historyAt = s.clock.Now()
		s.historyValid = true
	}
	s.mu.Unlock()
	return merged, nil
}

// InvalidateHistory drops the history cache regardless of its age.
func (s *OrderStore) InvalidateHistory() {
	s.mu.Lock()
	s.history = nil
	s.historyValid = false
	s.historyGen++
	s.mu.Unlock()
}

// ScheduleSoftRefresh re-lists Pending after the soft-refresh delay. A newer
// call replaces a scheduled one.
func (s *OrderStore) ScheduleSoftRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.ctx.Err() != nil {
		return
	}
	s.stopRefreshLocked()
	gen := s.refreshGen
	s.refreshTimer = s.clock.AfterFunc(s.refreshDelay, func() { s.softRefresh(gen) })
}

func (s *OrderStore) stopRefreshLocked() {
	s.refreshGen++
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
}

func (s *OrderStore) softRefresh(gen uint64) {
	s.mu.Lock()
	if gen != s.refreshGen {
		s.mu.Unlock()
		return
	}
	s.refreshTimer = nil
	s.mu.Unlock()

	_, err := s.list(s.ctx, models.StatusPending, true)
	switch {
	case err == nil, errors.Is(err, ErrListInFlight):
	case errors.Is(err, context.Canceled):
	default:
		s.log.Warn("soft refresh failed", "error", err)
	}
}

// remove takes an order out of the Pending collection ahead of a transition.
func (s *OrderStore) remove(orderID string) (models.Order, bool) {
	s.mu.Lock()
	i := s.indexLocked(orderID)
	if i < 0 {
		s.mu.Unlock()
		return models.Order{}, false
	}
	o := s.pending[i]
	s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
	s.markMutatedLocked()
	s.mu.Unlock()
	s.notify()
	return o, true
}

// patch edits an order in place and returns the patched copy.
func (s *OrderStore) patch(orderID string, f func(o *models.Order)) (models.Order, bool) {
	s.mu.Lock()
	i := s.indexLocked(orderID)
	if i < 0 {
		s.mu.Unlock()
		return models.Order{}, false
	}
	f(&s.pending[i])
	o := s.pending[i]
	s.markMutatedLocked()
	s.mu.Unlock()
	s.notify()
	return o, true
}

// markMutatedLocked makes any list issued before now stale.
func (s *OrderStore) markMutatedLocked() {
	s.seq++
	s.appliedSeq = s.seq
}

// Close stops the soft-refresh timer and aborts its request.
func (s *OrderStore) Close() {
	s.cancel()
	s.mu.Lock()
	s.stopRefreshLocked()
	s.mu.Unlock()
}
