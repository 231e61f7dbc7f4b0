package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dessert-admin/config"
	"dessert-admin/models"
	"dessert-admin/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTelegram struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	nextID  int
	editErr error
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if _, ok := c.(tgbotapi.EditMessageTextConfig); ok && f.editErr != nil {
		return tgbotapi.Message{}, f.editErr
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func paidEvent() services.OrderEvent {
	o := models.Order{
		ID:            "A1",
		CustomerName:  "Ana",
		Phone:         "300",
		Address:       "Calle 1",
		MapsLink:      "https://maps.app.goo.gl/x",
		Status:        models.StatusPaid,
		PaymentMethod: "Nequi",
		PaymentRef:    "R1",
		LineItems:     []models.LineItem{{ID: "mousse", Name: "Mousse", Quantity: 2, UnitPrice: 10000}},
		Subtotal:      20000,
		TotalUnits:    2,
	}
	return services.OrderEvent{Kind: services.EventPaid, Order: o, Operator: "ADMIN"}
}

func TestNotifySendsThenEditsCard(t *testing.T) {
	tg := &fakeTelegram{}
	b := newWithAPI(tg, -100, nil)

	require.NoError(t, b.Notify(context.Background(), paidEvent()))
	require.Len(t, tg.sent, 1)
	msg, ok := tg.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100), msg.ChatID)
	assert.Contains(t, msg.Text, "Pedido pagado #A1")
	assert.NotNil(t, msg.ReplyMarkup)

	ev := paidEvent()
	ev.Kind = services.EventUpdated
	require.NoError(t, b.Notify(context.Background(), ev))
	require.Len(t, tg.sent, 2)
	edit, ok := tg.sent[1].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok, "second event edits the existing card")
	assert.Equal(t, 1, edit.MessageID)
}

func TestNotifyResendsDeletedCard(t *testing.T) {
	tg := &fakeTelegram{}
	b := newWithAPI(tg, -100, nil)
	require.NoError(t, b.Notify(context.Background(), paidEvent()))

	tg.editErr = errors.New("Bad Request: message to edit not found")
	require.NoError(t, b.Notify(context.Background(), paidEvent()))
	require.Len(t, tg.sent, 3)
	_, ok := tg.sent[2].(tgbotapi.MessageConfig)
	assert.True(t, ok, "card re-sent after edit failed")

	p, ok := b.pointer(context.Background(), "A1")
	require.True(t, ok)
	assert.Equal(t, 2, p.messageID)
}

func TestNotifyIgnoresNotModified(t *testing.T) {
	tg := &fakeTelegram{}
	b := newWithAPI(tg, -100, nil)
	require.NoError(t, b.Notify(context.Background(), paidEvent()))

	tg.editErr = errors.New("Bad Request: message is not modified")
	require.NoError(t, b.Notify(context.Background(), paidEvent()))
	assert.Len(t, tg.sent, 2)
}

func TestNotifySurfacesSendError(t *testing.T) {
	tg := &fakeTelegram{}
	b := newWithAPI(tg, -100, nil)
	require.NoError(t, b.Notify(context.Background(), paidEvent()))

	tg.editErr = errors.New("Forbidden: bot was kicked")
	err := b.Notify(context.Background(), paidEvent())
	assert.ErrorContains(t, err, "bot was kicked")
}

func TestCardMarkup(t *testing.T) {
	assert.Nil(t, cardMarkup(services.OrderCardContent{Text: "x"}))

	kb := cardMarkup(services.OrderCardContent{Buttons: [][]services.OrderCardButton{
		{{Text: "map", URL: "https://m"}, {Text: "cb", CallbackData: "order:A1"}},
	}})
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 1)
	row := kb.InlineKeyboard[0]
	require.Len(t, row, 2)
	require.NotNil(t, row[0].URL)
	assert.Equal(t, "https://m", *row[0].URL)
	require.NotNil(t, row[1].CallbackData)
	assert.Equal(t, "order:A1", *row[1].CallbackData)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(configWith("", 1), nil)
	assert.Error(t, err)
	_, err = New(configWith("token", 0), nil)
	assert.Error(t, err)
}

func configWith(token string, chat int64) config.TelegramConfig {
	return config.TelegramConfig{Token: token, AdminChatID: chat}
}

// sentLog stands in for the admin_notifications table.
type sentLog struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (l *sentLog) recentlySent(ctx context.Context, orderID string, kind services.EventKind, cardHash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := orderID + "|" + string(kind) + "|" + cardHash
	if l.seen[key] {
		return true, nil
	}
	l.seen[key] = true
	return false, nil
}

func TestNotifyDeliversEveryChangedUpdate(t *testing.T) {
	tg := &fakeTelegram{}
	b := newWithAPI(tg, -100, nil)
	b.recentlySent = (&sentLog{seen: map[string]bool{}}).recentlySent

	first := paidEvent()
	first.Kind = services.EventUpdated
	first.Order.Status = models.StatusPending
	second := first
	second.Order.LineItems = []models.LineItem{{ID: "mousse", Name: "Mousse", Quantity: 3, UnitPrice: 10000}}
	second.Order.TotalUnits = 3
	second.Order.Subtotal = 30000

	require.NoError(t, b.Notify(context.Background(), first))
	require.NoError(t, b.Notify(context.Background(), second))
	require.Len(t, tg.sent, 2, "a second edit within the window still reaches the card")
	edit, ok := tg.sent[1].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Contains(t, edit.Text, "30.000")

	require.NoError(t, b.Notify(context.Background(), second))
	assert.Len(t, tg.sent, 2, "an identical card is skipped")
}
