package tui

import (
	"fmt"
	"strings"

	"dessert-admin/models"
	"dessert-admin/services"
)

func (m Model) View() string {
	var b strings.Builder
	fmt.Fprintln(&b, "🍰 Dessert Admin")
	if sess, ok := m.store.Session(); ok {
		fmt.Fprintf(&b, "Operador: %s\n", sess.Operator)
	}
	fmt.Fprintln(&b)

	switch m.screen {
	case screenLogin:
		m.viewLogin(&b)
	case screenList:
		m.viewList(&b)
	case screenDetail:
		m.viewDetail(&b)
	case screenEdit:
		m.viewEdit(&b)
	case screenGate:
		m.viewGate(&b)
	}

	fmt.Fprintln(&b)
	if m.status != "" {
		fmt.Fprintln(&b, m.status)
	}
	return b.String()
}

func focusMark(on bool) string {
	if on {
		return ">"
	}
	return " "
}

func (m Model) viewLogin(b *strings.Builder) {
	fmt.Fprintf(b, "%s PIN Admin: %s\n", focusMark(m.loginFocus == 0), strings.Repeat("•", len([]rune(m.pin))))
	op := m.operator
	if op == "" {
		op = "(ADMIN)"
	}
	fmt.Fprintf(b, "%s Operador:  %s\n", focusMark(m.loginFocus == 1), op)
	fmt.Fprintln(b)
	fmt.Fprintln(b, "Controls: tab cambia campo | enter entrar | esc salir")
}

func (m Model) viewList(b *strings.Builder) {
	pendingTab, historyTab := "[Pendiente]", " Historial "
	if m.tab == tabHistory {
		pendingTab, historyTab = " Pendiente ", "[Historial]"
	}
	fmt.Fprintf(b, "%s  %s\n\n", pendingTab, historyTab)

	rows := m.rows()
	if len(rows) == 0 {
		if m.tab == tabPending && !m.store.Loaded() {
			fmt.Fprintln(b, "Cargando...")
		} else {
			fmt.Fprintln(b, "No hay pedidos.")
		}
	}
	for i, o := range rows {
		line := fmt.Sprintf("%-10s %-20s %3d u  %s", o.ID, truncate(o.CustomerName, 20), o.TotalUnits, models.FormatMoney(o.Subtotal))
		if m.tab == tabHistory {
			line += "  " + string(o.Status)
		}
		fmt.Fprintf(b, "%s %s\n", focusMark(i == m.cursor), line)
	}
	fmt.Fprintln(b)
	fmt.Fprintln(b, "Controls: ↑/↓ mover | enter ver | tab pestaña | r actualizar | L cerrar sesión | q salir")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (m Model) viewDetail(b *strings.Builder) {
	o := m.selected
	fmt.Fprintf(b, "Pedido %s (%s)\n", o.ID, o.Status)
	fmt.Fprintf(b, "👤 %s  📞 %s\n", o.CustomerName, o.Phone)
	fmt.Fprintf(b, "📍 %s\n", o.Address)
	if o.MapsLink != "" {
		fmt.Fprintf(b, "🗺️ %s\n", o.MapsLink)
	}
	if o.Notes != "" {
		fmt.Fprintf(b, "📝 %s\n", o.Notes)
	}
	fmt.Fprintln(b)
	for _, it := range o.LineItems {
		if it.Quantity == 0 {
			continue
		}
		fmt.Fprintf(b, "  %2d × %s  %s\n", it.Quantity, it.Name, models.FormatMoney(it.UnitPrice*int64(it.Quantity)))
	}
	fmt.Fprintf(b, "Unidades: %d  Total: %s\n", o.TotalUnits, models.FormatMoney(o.Subtotal))
	switch o.Status {
	case models.StatusPaid:
		fmt.Fprintf(b, "Pagado por %s (%s %s)\n", o.PaidBy, o.PaymentMethod, o.PaymentRef)
	case models.StatusCancelled:
		fmt.Fprintf(b, "Cancelado por %s: %s\n", o.CancelledBy, o.CancelReason)
	}
	fmt.Fprintln(b)
	if m.tab == tabPending {
		fmt.Fprintln(b, "Controls: e editar | p pagar | c cancelar | esc volver")
	} else {
		fmt.Fprintln(b, "Controls: esc volver")
	}
}

func (m Model) viewEdit(b *strings.Builder) {
	fmt.Fprintf(b, "Editando %s\n\n", m.edit.OrderID)
	items := m.edit.Items()
	for i, it := range items {
		tag := ""
		if it.Custom {
			tag = " (sin catálogo)"
		}
		fmt.Fprintf(b, "%s [-] %2d [+] %s%s  %s\n", focusMark(m.editRow == i), it.Quantity, it.Name, tag, models.FormatMoney(it.UnitPrice))
	}
	fmt.Fprintf(b, "Unidades: %d  Total: %s\n\n", m.edit.TotalUnits(), models.FormatMoney(m.edit.Subtotal()))

	f := m.edit.Fields()
	for i, label := range fieldLabels {
		row := len(items) + i
		var value string
		if label == "WhatsApp" {
			value = "no"
			if f.WAOptIn {
				value = "sí"
			}
		} else {
			value = *fieldPtr(&f, i)
		}
		fmt.Fprintf(b, "%s %-10s %s\n", focusMark(m.editRow == row), label+":", value)
	}
	fmt.Fprintln(b)
	if m.edit.Dirty() {
		fmt.Fprintln(b, "Cambios sin guardar.")
	}
	fmt.Fprintln(b, "Controls: ↑/↓ mover | +/- cantidad | escribir edita | ctrl+s guardar | esc descartar")
}

func (m Model) viewGate(b *strings.Builder) {
	snap := m.gateSnap
	title := "Marcar como pagado"
	if snap.Action == services.ActionCancel {
		title = "Cancelar pedido"
	}
	fmt.Fprintf(b, "%s %s\n\n", title, snap.OrderID)

	choice := "(ninguno)"
	if m.choice >= 0 {
		choice = m.gateOptions()[m.choice]
	}
	label := "Método"
	if snap.Action == services.ActionCancel {
		label = "Motivo"
	}
	fmt.Fprintf(b, "%s %-10s ‹ %s ›\n", focusMark(m.focusedGateField() == "choice"), label+":", choice)
	if snap.Action == services.ActionPay {
		fmt.Fprintf(b, "%s %-10s %s\n", focusMark(m.focusedGateField() == "reference"), "Referencia:", m.reference)
	}
	fmt.Fprintf(b, "%s %-10s %s\n", focusMark(m.focusedGateField() == "note"), "Nota:", m.note)
	fmt.Fprintln(b)

	switch snap.State {
	case services.GateAwaitingInput:
		fmt.Fprintln(b, "Completa los datos.")
	case services.GateCountingDown:
		fmt.Fprintf(b, "Confirmar en %d...\n", snap.Remaining)
	case services.GateReady:
		fmt.Fprintln(b, "Listo. enter para confirmar.")
	case services.GateExecuting:
		fmt.Fprintln(b, "Enviando...")
	}
	fmt.Fprintln(b)
	fmt.Fprintln(b, "Controls: tab campo | ←/→ opción | enter confirmar | esc cerrar")
}
