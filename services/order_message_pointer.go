package services

import (
	"context"
	"errors"

	"dessert-admin/db"

	"github.com/jackc/pgx/v5"
)

// GetOrderMessagePointer returns the chat_id and message_id of the order's card
// in the admin chat. ok is false if no pointer exists or no database is configured.
func GetOrderMessagePointer(ctx context.Context, orderID string) (chatID int64, messageID int, ok bool, err error) {
	if db.Pool == nil {
		return 0, 0, false, nil
	}
	err = db.Pool.QueryRow(ctx, `
		SELECT chat_id, message_id FROM order_message_pointers WHERE order_id = $1`,
		orderID,
	).Scan(&chatID, &messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	return chatID, messageID, true, nil
}

// UpsertOrderMessagePointer inserts or updates the message pointer for order_id.
func UpsertOrderMessagePointer(ctx context.Context, orderID string, chatID int64, messageID int) error {
	if db.Pool == nil {
		return nil
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO order_message_pointers (order_id, chat_id, message_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (order_id) DO UPDATE SET chat_id = EXCLUDED.chat_id, message_id = EXCLUDED.message_id, updated_at = now()`,
		orderID, chatID, messageID,
	)
	return err
}
