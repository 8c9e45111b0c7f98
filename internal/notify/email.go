package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Notifier is pinged when a message lands for a user with no live
// connections. Best-effort only: the durable store is the real delivery
// mechanism, this is a nudge.
type Notifier interface {
	NewMessage(ctx context.Context, recipientID int64, senderName, preview string)
}

// Email notifies via SendGrid, resolving the recipient's address from the
// contacts cache fed by the identity service.
type Email struct {
	DB       *sql.DB
	APIKey   string
	FromAddr string
}

func NewEmail(db *sql.DB, apiKey, fromAddr string) *Email {
	return &Email{DB: db, APIKey: apiKey, FromAddr: fromAddr}
}

func (e *Email) NewMessage(ctx context.Context, recipientID int64, senderName, preview string) {
	var email, name string
	row := e.DB.QueryRowContext(ctx, `SELECT email, display_name FROM contacts WHERE user_id=?`, recipientID)
	if err := row.Scan(&email, &name); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("notify: contact lookup failed", "user_id", recipientID, "err", err)
		}
		return
	}

	if r := []rune(preview); len(r) > 120 {
		preview = string(r[:120]) + "…"
	}
	subject := fmt.Sprintf("New message from %s", senderName)
	body := fmt.Sprintf("%s sent you a message:\n\n%s\n\nOpen the app to reply.", senderName, preview)

	m := mail.NewSingleEmail(
		mail.NewEmail("MarketChat", e.FromAddr),
		subject,
		mail.NewEmail(name, email),
		body,
		body,
	)
	resp, err := sendgrid.NewSendClient(e.APIKey).Send(m)
	if err != nil {
		slog.Warn("notify: send failed", "user_id", recipientID, "err", err)
		return
	}
	if resp.StatusCode >= 300 {
		slog.Warn("notify: send rejected", "user_id", recipientID, "status", resp.StatusCode)
	}
}
