package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// InboundRecord is one provider message ID seen from a user.
type InboundRecord struct {
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// InboundLedger remembers which provider message IDs were already applied.
//
// Providers redeliver webhooks on timeouts; applying a redelivered message to
// the onboarding state machine would advance a user past a question twice.
type InboundLedger interface {
	// IsDuplicate reports whether messageID was already recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound records messageID for userID. It returns false when the
	// message was already recorded.
	RecordInbound(messageID, userID string) (bool, error)

	// MarkProcessed stamps the time the reply for messageID was produced.
	MarkProcessed(messageID string) error
}

// ledgerQueries holds the dialect-specific statements over inbound_messages.
type ledgerQueries struct {
	exists        string
	insert        string
	markProcessed string
}

var sqliteLedgerQueries = ledgerQueries{
	exists:        `SELECT 1 FROM inbound_messages WHERE message_id = ?`,
	insert:        `INSERT OR IGNORE INTO inbound_messages (message_id, user_id, received_at) VALUES (?, ?, ?)`,
	markProcessed: `UPDATE inbound_messages SET processed_at = ? WHERE message_id = ?`,
}

var postgresLedgerQueries = ledgerQueries{
	exists:        `SELECT 1 FROM inbound_messages WHERE message_id = $1`,
	insert:        `INSERT INTO inbound_messages (message_id, user_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
	markProcessed: `UPDATE inbound_messages SET processed_at = $1 WHERE message_id = $2`,
}

// sqlLedger implements InboundLedger over database/sql for both SQL backends.
type sqlLedger struct {
	db *sql.DB
	q  ledgerQueries
}

func (l sqlLedger) IsDuplicate(messageID string) (bool, error) {
	var one int
	err := l.db.QueryRow(l.q.exists, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inbound lookup failed: %w", err)
	}
	return true, nil
}

func (l sqlLedger) RecordInbound(messageID, userID string) (bool, error) {
	result, err := l.db.Exec(l.q.insert, messageID, userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record inbound message %s: %w", messageID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check inbound insert: %w", err)
	}
	if n == 0 {
		slog.Debug("sqlLedger.RecordInbound: already recorded", "messageID", messageID, "userID", userID)
	}
	return n > 0, nil
}

func (l sqlLedger) MarkProcessed(messageID string) error {
	if _, err := l.db.Exec(l.q.markProcessed, time.Now().UTC(), messageID); err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", messageID, err)
	}
	return nil
}
