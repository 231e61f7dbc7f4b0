package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"dessert-admin/config"
	"dessert-admin/logger"
	"dessert-admin/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramAPI is the slice of tgbotapi.BotAPI the notifier uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type cardPointer struct {
	chatID    int64
	messageID int
}

// Bot posts one card per order to the admin chat and edits it as the order
// changes. It implements services.Notifier.
type Bot struct {
	api    telegramAPI
	chatID int64
	log    *logger.Logger

	cardsMu sync.Mutex
	cards   map[string]cardPointer // fallback when no database is configured

	orderLocks sync.Map // map[orderID]*sync.Mutex

	recentlySent func(ctx context.Context, orderID string, kind services.EventKind, cardHash string) (bool, error)
}

func New(cfg config.TelegramConfig, log *logger.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("TELEGRAM_TOKEN not set")
	}
	if cfg.AdminChatID == 0 {
		return nil, errors.New("TELEGRAM_ADMIN_CHAT not set")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return newWithAPI(api, cfg.AdminChatID, log), nil
}

func newWithAPI(api telegramAPI, chatID int64, log *logger.Logger) *Bot {
	if log == nil {
		log = logger.Nop()
	}
	return &Bot{
		api:    api,
		chatID: chatID,
		log:    log.WithComponent("telegram"),
		cards:  make(map[string]cardPointer),

		recentlySent: services.SentOrderNotifyWithin30s,
	}
}

// cardMarkup converts OrderCardContent.Buttons to Telegram inline keyboard (URL vs callback).
func cardMarkup(c services.OrderCardContent) *tgbotapi.InlineKeyboardMarkup {
	if len(c.Buttons) == 0 {
		return nil
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range c.Buttons {
		var btns []tgbotapi.InlineKeyboardButton
		for _, btn := range row {
			if btn.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.CallbackData))
			}
		}
		rows = append(rows, btns)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// Notify renders the event as an order card. The same card for the same order
// and kind within 30 seconds is skipped; a card whose content changed is always
// delivered.
func (b *Bot) Notify(ctx context.Context, ev services.OrderEvent) error {
	unlock := b.lockOrder(ev.Order.ID)
	defer unlock()

	content := services.BuildAdminCard(&ev.Order, ev.Kind, ev.Operator)
	hash := services.CardHash(content.Text)

	dup, err := b.recentlySent(ctx, ev.Order.ID, ev.Kind, hash)
	if err != nil {
		b.log.Warn("dedup check failed", "order_id", ev.Order.ID, "error", err)
	} else if dup {
		b.log.Debug("card unchanged, skipping", "order_id", ev.Order.ID, "kind", ev.Kind)
		return nil
	}

	if err := b.upsertOrderCard(ctx, ev.Order.ID, content); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	meta := map[string]interface{}{
		"sent_via":  "order_notify",
		"order_id":  ev.Order.ID,
		"kind":      string(ev.Kind),
		"card_hash": hash,
	}
	if err := services.SaveOutboundMessage(ctx, b.chatID, content.Text, meta); err != nil {
		b.log.Warn("save outbound message failed", "order_id", ev.Order.ID, "error", err)
	}
	return nil
}

func (b *Bot) pointer(ctx context.Context, orderID string) (cardPointer, bool) {
	chatID, messageID, ok, err := services.GetOrderMessagePointer(ctx, orderID)
	if err != nil {
		b.log.Warn("get message pointer failed", "order_id", orderID, "error", err)
	}
	if ok {
		return cardPointer{chatID: chatID, messageID: messageID}, true
	}
	b.cardsMu.Lock()
	defer b.cardsMu.Unlock()
	p, ok := b.cards[orderID]
	return p, ok
}

func (b *Bot) savePointer(ctx context.Context, orderID string, p cardPointer) {
	b.cardsMu.Lock()
	b.cards[orderID] = p
	b.cardsMu.Unlock()
	if err := services.UpsertOrderMessagePointer(ctx, orderID, p.chatID, p.messageID); err != nil {
		b.log.Warn("save message pointer failed", "order_id", orderID, "error", err)
	}
}

// upsertOrderCard edits the existing card if we have a pointer; otherwise sends
// a new one and saves the pointer. A deleted card is re-sent; an unchanged one
// is left alone.
func (b *Bot) upsertOrderCard(ctx context.Context, orderID string, content services.OrderCardContent) error {
	if p, ok := b.pointer(ctx, orderID); ok {
		edit := tgbotapi.NewEditMessageText(p.chatID, p.messageID, content.Text)
		if kb := cardMarkup(content); kb != nil {
			edit.ReplyMarkup = kb
		} else {
			emptyKb := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
			edit.ReplyMarkup = &emptyKb
		}
		_, err := b.api.Send(edit)
		if err == nil {
			return nil
		}
		errStr := err.Error()
		if strings.Contains(errStr, "not modified") {
			return nil
		}
		if !strings.Contains(errStr, "not found") {
			return err
		}
	}

	msg := tgbotapi.NewMessage(b.chatID, content.Text)
	if kb := cardMarkup(content); kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return err
	}
	b.savePointer(ctx, orderID, cardPointer{chatID: b.chatID, messageID: sent.MessageID})
	return nil
}

// lockOrder locks by orderID and returns an unlock function. Used to prevent concurrent edits of the same order card.
func (b *Bot) lockOrder(orderID string) func() {
	v, _ := b.orderLocks.LoadOrStore(orderID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
