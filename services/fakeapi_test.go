package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"dessert-admin/api"

	"github.com/stretchr/testify/require"
)

const testPIN = "1234"

// fakeRow is an order as the spreadsheet backend stores it.
type fakeRow struct {
	ID        string
	Name      string
	Phone     string
	Address   string
	Status    string
	CreatedAt string
	ItemsJSON string
	Items     string
}

func (r fakeRow) wire() map[string]any {
	return map[string]any{
		"order_id":       r.ID,
		"customer_name":  r.Name,
		"phone":          r.Phone,
		"address_text":   r.Address,
		"payment_status": r.Status,
		"created_at":     r.CreatedAt,
		"items_json":     r.ItemsJSON,
		"items":          r.Items,
	}
}

type fakeFailure struct {
	status int
	msg    string
	// apply makes the server change state even though it reports failure.
	apply bool
}

// fakeAPI is an in-memory order endpoint speaking the single-POST protocol.
type fakeAPI struct {
	mu     sync.Mutex
	rows   map[string]*fakeRow
	order  []string
	calls  map[string]int
	bodies []map[string]any
	fail   map[string]fakeFailure

	hold    chan struct{}
	entered chan struct{}

	onMutation func(action string)
}

func newFakeAPI(rows ...fakeRow) *fakeAPI {
	f := &fakeAPI{
		rows:  map[string]*fakeRow{},
		calls: map[string]int{},
		fail:  map[string]fakeFailure{},
	}
	for i := range rows {
		r := rows[i]
		f.rows[r.ID] = &r
		f.order = append(f.order, r.ID)
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad json"})
		return
	}
	action, _ := body["action"].(string)

	f.mu.Lock()
	f.calls[action]++
	f.bodies = append(f.bodies, body)

	if body["admin_pin"] != testPIN {
		f.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "PIN inválido"})
		return
	}
	if fail, ok := f.fail[action]; ok {
		delete(f.fail, action)
		if fail.apply {
			f.applyLocked(action, body)
		}
		f.mu.Unlock()
		writeJSON(w, fail.status, map[string]any{"ok": false, "error": fail.msg})
		return
	}

	if action == api.ActionListOrders {
		status, _ := body["payment_status"].(string)
		orders := []map[string]any{}
		for _, id := range f.order {
			if row := f.rows[id]; row.Status == status {
				orders = append(orders, row.wire())
			}
		}
		hold, entered := f.hold, f.entered
		if status == "Pendiente" {
			f.hold, f.entered = nil, nil
		} else {
			hold, entered = nil, nil
		}
		f.mu.Unlock()
		if hold != nil {
			close(entered)
			<-hold
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "orders": orders})
		return
	}

	id, _ := body["order_id"].(string)
	row, ok := f.rows[id]
	if !ok || row.Status != "Pendiente" {
		f.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "El pedido ya no está pendiente."})
		return
	}
	f.applyLocked(action, body)
	hook := f.onMutation
	f.mu.Unlock()
	if hook != nil {
		hook(action)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (f *fakeAPI) applyLocked(action string, body map[string]any) {
	id, _ := body["order_id"].(string)
	row, ok := f.rows[id]
	if !ok {
		return
	}
	switch action {
	case api.ActionMarkPaid:
		row.Status = "Pagado"
	case api.ActionCancelOrder:
		row.Status = "Cancelado"
	case api.ActionUpdateOrder:
		row.Name, _ = body["customer_name"].(string)
		row.Phone, _ = body["phone"].(string)
		row.Address, _ = body["address_text"].(string)
		items, _ := json.Marshal(body["items"])
		row.ItemsJSON = string(items)
	}
}

// holdNextPendingList makes the next Pendiente list block until release is
// called. The returned channel closes once that list reached the server.
func (f *fakeAPI) holdNextPendingList() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hold := make(chan struct{})
	f.hold = hold
	f.entered = make(chan struct{})
	var once sync.Once
	return f.entered, func() { once.Do(func() { close(hold) }) }
}

func (f *fakeAPI) failNext(action string, fail fakeFailure) {
	f.mu.Lock()
	f.fail[action] = fail
	f.mu.Unlock()
}

func (f *fakeAPI) setOnMutation(fn func(action string)) {
	f.mu.Lock()
	f.onMutation = fn
	f.mu.Unlock()
}

func (f *fakeAPI) setStatus(id, status string) {
	f.mu.Lock()
	f.rows[id].Status = status
	f.mu.Unlock()
}

func (f *fakeAPI) callCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[action]
}

func (f *fakeAPI) lastBody(action string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.bodies) - 1; i >= 0; i-- {
		if f.bodies[i]["action"] == action {
			return f.bodies[i]
		}
	}
	return nil
}

func sampleRows() []fakeRow {
	return []fakeRow{
		{ID: "A1", Name: "Ana", Phone: "3001112233", Address: "Calle 1", Status: "Pendiente",
			CreatedAt: "2025-03-01T10:00:00Z", ItemsJSON: `[{"id":"mousse","qty":2}]`},
		{ID: "B2", Name: "Beto", Phone: "3004445566", Address: "Carrera 2", Status: "Pendiente",
			CreatedAt: "2025-03-01T11:00:00Z", Items: "- Cheesecake: 1"},
		{ID: "C3", Name: "Caro", Phone: "3007778899", Address: "Av 3", Status: "Pagado",
			CreatedAt: "2025-02-28T09:00:00Z", ItemsJSON: `[{"id":"mousse","qty":1}]`},
		{ID: "D4", Name: "Dani", Phone: "3000000000", Address: "Av 4", Status: "Cancelado",
			CreatedAt: "2025-03-01T08:00:00Z", ItemsJSON: `[{"id":"cheesecake","qty":1}]`},
	}
}

type testEnv struct {
	api     *fakeAPI
	clock   *fakeClock
	store   *OrderStore
	machine *OrderStateMachine
}

// newTestEnv starts a fake API, logs in and loads the Pending list.
func newTestEnv(t *testing.T, rows ...fakeRow) *testEnv {
	t.Helper()
	if len(rows) == 0 {
		rows = sampleRows()
	}
	fake := newFakeAPI(rows...)
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	clock := newFakeClock()
	client := api.NewClient(api.Options{
		URL:        srv.URL,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
	})
	store := NewOrderStore(StoreOptions{
		API:        client,
		Reconciler: Reconciler{Catalog: twoProductCatalog(), Match: MatchExact},
		Clock:      clock,
	})
	machine := NewOrderStateMachine(store, MachineOptions{ConfirmSeconds: 3})
	t.Cleanup(machine.Close)

	require.NoError(t, store.Login(context.Background(), testPIN, ""))
	return &testEnv{api: fake, clock: clock, store: store, machine: machine}
}

func pendingIDs(s *OrderStore) []string {
	var ids []string
	for _, o := range s.Pending() {
		ids = append(ids, o.ID)
	}
	return ids
}
