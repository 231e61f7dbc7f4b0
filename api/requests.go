package api

import (
	"encoding/json"

	"dessert-admin/models"
)

// Auth is carried by every request. Operator is only recorded for audit.
type Auth struct {
	AdminPIN string `json:"admin_pin"`
	Operator string `json:"operator,omitempty"`
}

type ListOrdersRequest struct {
	AdminPIN      string               `json:"admin_pin"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

type ListOrdersResponse struct {
	Orders []models.Order `json:"orders"`
	// Skipped counts rows that could not be decoded and were left out.
	Skipped int `json:"-"`
}

// UnmarshalJSON decodes rows one by one so a single malformed row does not
// hide the rest of the list.
func (r *ListOrdersResponse) UnmarshalJSON(data []byte) error {
	var aux struct {
		Orders []json.RawMessage `json:"orders"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Orders = make([]models.Order, 0, len(aux.Orders))
	r.Skipped = 0
	for _, raw := range aux.Orders {
		var o models.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			r.Skipped++
			continue
		}
		r.Orders = append(r.Orders, o)
	}
	return nil
}

type UpdateOrderRequest struct {
	Auth
	OrderID      string              `json:"order_id"`
	CustomerName string              `json:"customer_name"`
	Phone        string              `json:"phone"`
	Address      string              `json:"address_text"`
	MapsLink     string              `json:"maps_link"`
	Email        string              `json:"email"`
	WAOptIn      bool                `json:"wa_opt_in"`
	Notes        string              `json:"notes"`
	Items        []models.UpdateItem `json:"items"`
}

type MarkPaidRequest struct {
	Auth
	OrderID       string `json:"order_id"`
	PaymentMethod string `json:"payment_method"`
	PaymentRef    string `json:"payment_ref"`
}

type CancelOrderRequest struct {
	Auth
	OrderID      string `json:"order_id"`
	CancelReason string `json:"cancel_reason"`
}
