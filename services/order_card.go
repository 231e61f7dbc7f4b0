package services

import (
	"fmt"
	"strings"

	"dessert-admin/models"
)

// OrderCardButton is one inline button (text + callback_data or url).
type OrderCardButton struct {
	Text         string
	CallbackData string
	URL          string // if set, use as URL button instead of callback
}

// OrderCardContent is the text and optional inline keyboard for an order card.
type OrderCardContent struct {
	Text    string
	Buttons [][]OrderCardButton
}

func eventHeadline(kind EventKind) string {
	switch kind {
	case EventPaid:
		return "✅ Pedido pagado"
	case EventCancelled:
		return "🚫 Pedido cancelado"
	case EventUpdated:
		return "✏️ Pedido editado"
	default:
		return "Pedido"
	}
}

// BuildAdminCard renders the admin-chat card for an order after kind happened.
// Only rows with units are listed; custom rows show their stored price.
func BuildAdminCard(o *models.Order, kind EventKind, operator string) OrderCardContent {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s #%s\n\n", eventHeadline(kind), o.ID)
	fmt.Fprintf(&sb, "👤 %s\n📞 %s\n📍 %s\n", o.CustomerName, o.Phone, o.Address)
	if o.Notes != "" {
		fmt.Fprintf(&sb, "📝 %s\n", o.Notes)
	}
	sb.WriteString("\n")
	for _, it := range o.LineItems {
		if it.Quantity <= 0 {
			continue
		}
		fmt.Fprintf(&sb, "• %s x%d = $%s\n", it.Name, it.Quantity, models.FormatMoney(int64(it.Quantity)*it.UnitPrice))
	}
	fmt.Fprintf(&sb, "\n🧁 Unidades: %d\n💵 Total: $%s\n", o.TotalUnits, models.FormatMoney(o.Subtotal))

	switch o.Status {
	case models.StatusPaid:
		fmt.Fprintf(&sb, "\nEstado: %s (%s, ref %s)", o.Status, o.PaymentMethod, o.PaymentRef)
	case models.StatusCancelled:
		fmt.Fprintf(&sb, "\nEstado: %s (%s)", o.Status, o.CancelReason)
	default:
		fmt.Fprintf(&sb, "\nEstado: %s", o.Status)
	}
	if operator != "" {
		fmt.Fprintf(&sb, "\nOperador: %s", operator)
	}

	var buttons [][]OrderCardButton
	if o.MapsLink != "" {
		buttons = [][]OrderCardButton{{{Text: "📍 Ver ubicación", URL: o.MapsLink}}}
	}
	return OrderCardContent{Text: sb.String(), Buttons: buttons}
}
