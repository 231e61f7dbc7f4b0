package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dessert-admin/models"
	"dessert-admin/services"

	tea "github.com/charmbracelet/bubbletea"
)

type screen int

const (
	screenLogin screen = iota
	screenList
	screenDetail
	screenEdit
	screenGate
)

type tab int

const (
	tabPending tab = iota
	tabHistory
)

var fieldLabels = []string{"Nombre", "Teléfono", "Dirección", "Mapa", "Email", "Notas", "WhatsApp"}

type Options struct {
	// Timeout bounds every API call started from the UI.
	Timeout time.Duration
}

// Model is the bubbletea model of the admin console.
type Model struct {
	machine *services.OrderStateMachine
	store   *services.OrderStore
	timeout time.Duration

	screen   screen
	tab      tab
	cursor   int
	pending  []models.Order
	history  []models.Order
	selected models.Order

	pin        string
	operator   string
	loginFocus int

	edit    *services.EditSession
	editRow int

	gate      *services.Gate
	gateSnap  services.GateSnapshot
	gateFocus int
	choice    int
	reference string
	note      string

	status string
	busy   bool
}

type storeChangedMsg struct{}

type gateChangedMsg struct{}

type loginDoneMsg struct{ err error }

type historyMsg struct {
	orders []models.Order
	err    error
}

type opDoneMsg struct {
	ok  string
	err error
}

func New(machine *services.OrderStateMachine, opts Options) Model {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	m := Model{
		machine: machine,
		store:   machine.Store(),
		timeout: opts.Timeout,
		screen:  screenLogin,
		choice:  -1,
	}
	if sess, ok := m.store.Session(); ok {
		m.screen = screenList
		m.operator = sess.Operator
	}
	return m
}

// Run starts the program and routes store and gate callbacks into it.
// Callbacks may fire from inside Update, so they never block on Send.
func Run(ctx context.Context, machine *services.OrderStateMachine, opts Options) error {
	p := tea.NewProgram(New(machine, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	machine.Store().OnChange(func() { go p.Send(storeChangedMsg{}) })
	onGate := func(services.GateSnapshot) { go p.Send(gateChangedMsg{}) }
	machine.PayGate().OnChange(onGate)
	machine.CancelGate().OnChange(onGate)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	if m.screen == screenList {
		return m.refreshCmd()
	}
	return nil
}

func (m Model) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		_, err := m.store.List(ctx, models.StatusPending)
		if errors.Is(err, services.ErrListInFlight) {
			err = nil
		}
		return opDoneMsg{err: err}
	}
}

func (m Model) historyCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		orders, err := m.store.History(ctx)
		return historyMsg{orders: orders, err: err}
	}
}

func (m Model) loginCmd(pin, operator string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		return loginDoneMsg{err: m.store.Login(ctx, pin, operator)}
	}
}

func (m Model) logoutCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		return opDoneMsg{ok: "Sesión cerrada.", err: m.store.Logout(ctx)}
	}
}

func (m Model) saveCmd(es *services.EditSession) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		err := m.machine.SaveEdit(ctx, es)
		return opDoneMsg{ok: fmt.Sprintf("✅ Pedido %s actualizado.", es.OrderID), err: err}
	}
}

func (m Model) confirmCmd(action services.Action, orderID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.withTimeout()
		defer cancel()
		if action == services.ActionPay {
			err := m.machine.ConfirmPayment(ctx)
			return opDoneMsg{ok: fmt.Sprintf("✅ Pedido %s marcado como pagado.", orderID), err: err}
		}
		err := m.machine.ConfirmCancel(ctx)
		return opDoneMsg{ok: fmt.Sprintf("✅ Pedido %s cancelado.", orderID), err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case storeChangedMsg:
		m.pending = m.store.Pending()
		if m.tab == tabPending {
			m.clampCursor()
		}
		if !m.store.LoggedIn() {
			m.screen = screenLogin
		}
		return m, nil

	case gateChangedMsg:
		if m.gate != nil {
			m.gateSnap = m.gate.Snapshot()
		}
		return m, nil

	case loginDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = services.StatusText(msg.err)
			return m, nil
		}
		m.pin = ""
		m.screen = screenList
		m.tab = tabPending
		m.pending = m.store.Pending()
		m.cursor = 0
		m.status = fmt.Sprintf("Sesión iniciada. %s", m.counts())
		return m, nil

	case historyMsg:
		m.busy = false
		if msg.err != nil {
			m.status = services.StatusText(msg.err)
			return m, nil
		}
		m.history = msg.orders
		m.clampCursor()
		m.status = fmt.Sprintf("Historial: %d", len(m.history))
		return m, nil

	case opDoneMsg:
		m.busy = false
		m.pending = m.store.Pending()
		if m.tab == tabPending {
			m.clampCursor()
		}
		switch {
		case msg.err != nil:
			m.status = services.StatusText(msg.err)
		case msg.ok != "":
			m.status = msg.ok
		default:
			m.status = m.counts()
		}
		if !m.store.LoggedIn() {
			m.screen = screenLogin
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.screen {
		case screenLogin:
			return m.updateLogin(msg)
		case screenList:
			return m.updateList(msg)
		case screenDetail:
			return m.updateDetail(msg)
		case screenEdit:
			return m.updateEdit(msg)
		case screenGate:
			return m.updateGate(msg)
		}
	}
	return m, nil
}

func (m Model) counts() string {
	return fmt.Sprintf("Pendientes: %d", len(m.pending))
}

func (m Model) rows() []models.Order {
	if m.tab == tabHistory {
		return m.history
	}
	return m.pending
}

func (m *Model) clampCursor() {
	n := len(m.rows())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// editText applies a typing key to s.
func editText(s string, msg tea.KeyMsg) (string, bool) {
	switch msg.Type {
	case tea.KeyRunes:
		return s + string(msg.Runes), true
	case tea.KeySpace:
		return s + " ", true
	case tea.KeyBackspace:
		if s == "" {
			return s, false
		}
		r := []rune(s)
		return string(r[:len(r)-1]), true
	}
	return s, false
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
		m.loginFocus = 1 - m.loginFocus
		return m, nil
	case tea.KeyEnter:
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.status = "Verificando PIN..."
		return m, m.loginCmd(m.pin, m.operator)
	case tea.KeyEsc:
		return m, tea.Quit
	}
	if m.loginFocus == 0 {
		m.pin, _ = editText(m.pin, msg)
	} else {
		m.operator, _ = editText(m.operator, msg)
	}
	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "tab":
		m.cursor = 0
		if m.tab == tabPending {
			m.tab = tabHistory
			m.busy = true
			m.status = "Cargando historial..."
			return m, m.historyCmd()
		}
		m.tab = tabPending
		m.status = m.counts()
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows())-1 {
			m.cursor++
		}
	case "r":
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.status = "Actualizando..."
		if m.tab == tabHistory {
			m.store.InvalidateHistory()
			return m, m.historyCmd()
		}
		return m, m.refreshCmd()
	case "L":
		return m, m.logoutCmd()
	case "enter":
		rows := m.rows()
		if len(rows) == 0 {
			return m, nil
		}
		m.selected = rows[m.cursor]
		m.screen = screenDetail
	}
	return m, nil
}

func (m Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.screen = screenList
		return m, nil
	}
	if m.tab != tabPending {
		return m, nil
	}
	switch msg.String() {
	case "e":
		es, err := m.machine.BeginEdit(m.selected.ID)
		if err != nil {
			m.status = services.StatusText(err)
			return m, nil
		}
		m.edit = es
		m.editRow = 0
		m.screen = screenEdit
		m.status = "Editando. ctrl+s guarda, esc descarta."
	case "p":
		m.openGate(m.machine.PayGate())
	case "c":
		m.openGate(m.machine.CancelGate())
	}
	return m, nil
}

func (m *Model) openGate(g *services.Gate) {
	m.gate = g
	g.Open(m.selected.ID)
	m.gateSnap = g.Snapshot()
	m.gateFocus = 0
	m.choice = -1
	m.reference = ""
	m.note = ""
	m.screen = screenGate
	m.status = ""
}

func (m Model) editRowCount() int {
	return len(m.edit.Items()) + len(fieldLabels)
}

func (m Model) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	items := len(m.edit.Items())
	switch msg.Type {
	case tea.KeyEsc:
		m.edit.Revert()
		m.edit = nil
		m.screen = screenDetail
		m.status = "Edición descartada."
		return m, nil
	case tea.KeyCtrlS:
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.status = "Guardando..."
		es := m.edit
		m.edit = nil
		m.screen = screenList
		return m, m.saveCmd(es)
	case tea.KeyUp:
		if m.editRow > 0 {
			m.editRow--
		}
		return m, nil
	case tea.KeyDown, tea.KeyTab:
		if m.editRow < m.editRowCount()-1 {
			m.editRow++
		}
		return m, nil
	}

	if m.editRow < items {
		switch msg.String() {
		case "+", "right":
			_ = m.edit.AdjustQty(m.editRow, 1)
		case "-", "left":
			_ = m.edit.AdjustQty(m.editRow, -1)
		}
		return m, nil
	}

	f := m.edit.Fields()
	idx := m.editRow - items
	if fieldLabels[idx] == "WhatsApp" {
		if msg.Type == tea.KeySpace || msg.Type == tea.KeyEnter {
			f.WAOptIn = !f.WAOptIn
			m.edit.SetFields(f)
		}
		return m, nil
	}
	p := fieldPtr(&f, idx)
	if v, ok := editText(*p, msg); ok {
		*p = v
		m.edit.SetFields(f)
	}
	return m, nil
}

func fieldPtr(f *models.OrderFields, idx int) *string {
	switch idx {
	case 0:
		return &f.CustomerName
	case 1:
		return &f.Phone
	case 2:
		return &f.Address
	case 3:
		return &f.MapsLink
	case 4:
		return &f.Email
	default:
		return &f.Notes
	}
}

func (m Model) gateOptions() []string {
	if m.gate.Action() == services.ActionPay {
		return services.PaymentMethods
	}
	return services.CancelReasons
}

func (m Model) gateInput() services.GateInput {
	var choice string
	if m.choice >= 0 {
		choice = m.gateOptions()[m.choice]
	}
	if m.gate.Action() == services.ActionPay {
		return services.GateInput{Method: choice, Reference: m.reference, Note: m.note}
	}
	return services.GateInput{Reason: choice, Note: m.note}
}

// gateFields is the number of focusable inputs in the modal.
func (m Model) gateFields() int {
	if m.gate.Action() == services.ActionPay {
		return 3
	}
	return 2
}

func (m Model) updateGate(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.gate.Close()
		m.gate = nil
		m.screen = screenDetail
		return m, nil
	case tea.KeyTab, tea.KeyDown:
		m.gateFocus = (m.gateFocus + 1) % m.gateFields()
		return m, nil
	case tea.KeyShiftTab, tea.KeyUp:
		m.gateFocus = (m.gateFocus + m.gateFields() - 1) % m.gateFields()
		return m, nil
	case tea.KeyEnter:
		snap := m.gate.Snapshot()
		if snap.State != services.GateReady || m.busy {
			if err := snap.Input.Validate(m.gate.Action()); err != nil {
				m.status = services.StatusText(err)
			} else {
				m.status = "Espera la cuenta regresiva."
			}
			return m, nil
		}
		m.busy = true
		m.status = "Enviando..."
		action := m.gate.Action()
		m.gate = nil
		m.screen = screenList
		return m, m.confirmCmd(action, snap.OrderID)
	}

	changed := false
	switch m.focusedGateField() {
	case "choice":
		opts := m.gateOptions()
		switch msg.String() {
		case "right", "l", " ":
			m.choice = (m.choice + 1) % len(opts)
			changed = true
		case "left", "h":
			if m.choice <= 0 {
				m.choice = len(opts) - 1
			} else {
				m.choice--
			}
			changed = true
		}
	case "reference":
		m.reference, changed = editText(m.reference, msg)
	case "note":
		m.note, changed = editText(m.note, msg)
	}
	if changed {
		m.gate.SetInput(m.gateInput())
		m.gateSnap = m.gate.Snapshot()
	}
	return m, nil
}

func (m Model) focusedGateField() string {
	switch {
	case m.gateFocus == 0:
		return "choice"
	case m.gate.Action() == services.ActionPay && m.gateFocus == 1:
		return "reference"
	default:
		return "note"
	}
}
