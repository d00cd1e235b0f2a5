package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/bugtrail/bugtrail/internal/auth"
)

// UserDirectory resolves notification recipients to accounts.
type UserDirectory interface {
	UserByID(ctx context.Context, id string) (*auth.User, error)
}

// SMTPMailer delivers notifications over a plain SMTP relay such as Mailpit.
type SMTPMailer struct {
	Addr   string
	From   string
	Users  UserDirectory
	Logger *slog.Logger
}

// NotifyUser resolves the user's email and sends the message.
func (m *SMTPMailer) NotifyUser(ctx context.Context, userID, subject, body string) error {
	user, err := m.Users.UserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve recipient %s: %w", userID, err)
	}
	msg := []byte("From: " + m.From + "\r\n" +
		"To: " + user.Email + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n")
	if err := smtp.SendMail(m.Addr, nil, m.From, []string{user.Email}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if m.Logger != nil {
		m.Logger.Info("notification sent",
			slog.String("to", user.Email), slog.String("subject", subject))
	}
	return nil
}
