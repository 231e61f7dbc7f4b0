package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "Pendiente"
	StatusPaid      PaymentStatus = "Pagado"
	StatusCancelled PaymentStatus = "Cancelado"
)

// Terminal reports whether no further transition is allowed from s.
func (s PaymentStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending: {StatusPaid, StatusCancelled},
}

// ValidStatusTransition reports whether an order may move from one payment status to another.
func ValidStatusTransition(from, to PaymentStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order is a row returned by list_orders. Subtotal, TotalUnits and LineItems are
// derived from the catalog and never decoded from storage.
type Order struct {
	ID           string          `json:"order_id"`
	CustomerName string          `json:"customer_name"`
	Phone        string          `json:"phone"`
	Address      string          `json:"address_text"`
	MapsLink     string          `json:"maps_link"`
	Notes        string          `json:"notes"`
	Email        string          `json:"email,omitempty"`
	WAOptIn      FlexBool        `json:"wa_opt_in"`
	ItemsText    string          `json:"-"`
	ItemsList    json.RawMessage `json:"-"`
	ItemsJSON    json.RawMessage `json:"items_json,omitempty"`
	Status       PaymentStatus   `json:"payment_status"`
	CreatedAt    string          `json:"created_at"`

	PaidBy        string `json:"paid_by,omitempty"`
	PaidAt        string `json:"paid_at,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	PaymentRef    string `json:"payment_ref,omitempty"`

	CancelledBy  string `json:"cancelled_by,omitempty"`
	CancelledAt  string `json:"cancelled_at,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`

	LineItems  []LineItem `json:"-"`
	Subtotal   int64      `json:"-"`
	TotalUnits int        `json:"-"`
}

// LineItem is one editable row. Custom marks rows preserved from the persisted
// order that have no catalog entry.
type LineItem struct {
	ID        string
	Name      string
	Quantity  int
	UnitPrice int64
	Custom    bool
}

// OrderFields are the customer-facing fields editable while an order is pending.
type OrderFields struct {
	CustomerName string
	Phone        string
	Address      string
	MapsLink     string
	Email        string
	WAOptIn      bool
	Notes        string
}

func (o *Order) Fields() OrderFields {
	return OrderFields{
		CustomerName: o.CustomerName,
		Phone:        o.Phone,
		Address:      o.Address,
		MapsLink:     o.MapsLink,
		Email:        o.Email,
		WAOptIn:      bool(o.WAOptIn),
		Notes:        o.Notes,
	}
}

func (o *Order) ApplyFields(f OrderFields) {
	o.CustomerName = f.CustomerName
	o.Phone = f.Phone
	o.Address = f.Address
	o.MapsLink = f.MapsLink
	o.Email = f.Email
	o.WAOptIn = FlexBool(f.WAOptIn)
	o.Notes = f.Notes
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006 15:04:05",
	"2006-01-02",
}

// spreadsheetEpoch is day zero of spreadsheet serial dates.
var spreadsheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// CreatedTime parses CreatedAt, including spreadsheet serial dates such as
// "45678.5". The zero time is returned when nothing matches.
func (o *Order) CreatedTime() time.Time {
	s := strings.TrimSpace(o.CreatedAt)
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if days, err := strconv.ParseFloat(s, 64); err == nil && days > 0 {
		return spreadsheetEpoch.Add(time.Duration(days * float64(24*time.Hour))).Truncate(time.Second)
	}
	return time.Time{}
}

// FlexBool accepts JSON booleans as well as "true"/"false" strings, which is how
// the spreadsheet backend returns wa_opt_in. Anything unrecognised is false.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(data)), `"`))
	switch strings.ToLower(s) {
	case "true", "1", "si", "sí", "yes", "x":
		*b = true
	default:
		*b = false
	}
	return nil
}

func (b FlexBool) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

// UnmarshalJSON tolerates numbers in text cells, which spreadsheet backends
// emit for values that look numeric. items may be free text or the item
// array the storefront posts.
func (o *Order) UnmarshalJSON(data []byte) error {
	type alias Order
	aux := struct {
		*alias
		ID           json.RawMessage `json:"order_id"`
		CustomerName json.RawMessage `json:"customer_name"`
		Phone        json.RawMessage `json:"phone"`
		Address      json.RawMessage `json:"address_text"`
		Notes        json.RawMessage `json:"notes"`
		Items        json.RawMessage `json:"items"`
		CreatedAt    json.RawMessage `json:"created_at"`
		PaymentRef   json.RawMessage `json:"payment_ref"`
	}{alias: (*alias)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.ID = scalarString(aux.ID)
	o.CustomerName = scalarString(aux.CustomerName)
	o.Phone = scalarString(aux.Phone)
	o.Address = scalarString(aux.Address)
	o.Notes = scalarString(aux.Notes)
	o.CreatedAt = scalarString(aux.CreatedAt)
	o.PaymentRef = scalarString(aux.PaymentRef)
	if items := strings.TrimSpace(string(aux.Items)); strings.HasPrefix(items, "[") {
		o.ItemsList = aux.Items
	} else {
		o.ItemsText = scalarString(aux.Items)
	}
	return nil
}

func scalarString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	return s
}
