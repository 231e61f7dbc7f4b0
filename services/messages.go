package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"dessert-admin/db"

	"github.com/cespare/xxhash/v2"
)

const outboundRole = "system/outbound"

// SaveOutboundMessage records a notification sent to the admin chat. Without
// a database it does nothing.
func SaveOutboundMessage(ctx context.Context, chatID int64, content string, meta map[string]interface{}) error {
	if db.Pool == nil {
		return nil
	}
	metaJSON := "{}"
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		metaJSON = string(b)
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO admin_notifications (chat_id, role, content, meta)
		VALUES ($1, $2, $3, $4::jsonb)`,
		chatID, outboundRole, content, metaJSON,
	)
	return err
}

// CardHash fingerprints a card's text so repeats can be told apart from changes.
func CardHash(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// SentOrderNotifyWithin30s returns true if the same card (order_id, kind and
// card_hash) was already sent in the last 30 seconds (de-dup).
func SentOrderNotifyWithin30s(ctx context.Context, orderID string, kind EventKind, cardHash string) (bool, error) {
	if db.Pool == nil {
		return false, nil
	}
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM admin_notifications
		WHERE role = $1 AND meta->>'sent_via' = 'order_notify'
		  AND meta->>'order_id' = $2 AND meta->>'kind' = $3
		  AND meta->>'card_hash' = $4
		  AND created_at > now() - interval '30 seconds'`,
		outboundRole, orderID, string(kind), cardHash,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
