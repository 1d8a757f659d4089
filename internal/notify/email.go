package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const (
	// DefaultSMTPPort submits with STARTTLS when the server offers it
	DefaultSMTPPort = 587
	implicitTLSPort = 465
	smtpTimeout     = 20 * time.Second
)

// EmailOptions configures the SMTP relay and the close-out mailbox
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailSender mails a close-out summary to a fixed list of recipients
type EmailSender struct {
	from string
	to   []string
	send func(ctx context.Context, msgs ...*mail.Msg) error
}

// NewEmailSender creates a sender relaying through opts.Host. Port 465 uses
// implicit TLS; any other port upgrades with STARTTLS when offered. SMTP AUTH
// is only used when a username is set.
func NewEmailSender(opts EmailOptions) (*EmailSender, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, errors.New("email: smtp host is required")
	}
	if len(opts.To) == 0 {
		return nil, errors.New("email: at least one recipient is required")
	}
	from := opts.From
	if from == "" {
		from = opts.Username
	}
	if from == "" {
		return nil, errors.New("email: sender address is required")
	}

	port := opts.Port
	if port == 0 {
		port = DefaultSMTPPort
	}
	clientOpts := []mail.Option{mail.WithPort(port), mail.WithTimeout(smtpTimeout)}
	if port == implicitTLSPort {
		clientOpts = append(clientOpts, mail.WithSSL())
	} else {
		clientOpts = append(clientOpts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if opts.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(opts.Username),
			mail.WithPassword(opts.Password),
		)
	}

	client, err := mail.NewClient(opts.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("email: create client: %w", err)
	}
	return &EmailSender{from: from, to: opts.To, send: client.DialAndSendWithContext}, nil
}

// Send mails notice to every configured recipient
func (e *EmailSender) Send(ctx context.Context, notice CloseOut) error {
	msg, err := e.message(notice)
	if err != nil {
		return err
	}
	if err := e.send(ctx, msg); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}

// Name returns the sender identifier
func (e *EmailSender) Name() string {
	return "email"
}

func (e *EmailSender) message(notice CloseOut) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return nil, fmt.Errorf("email: from %q: %w", e.from, err)
	}
	if err := msg.To(e.to...); err != nil {
		return nil, fmt.Errorf("email: recipients: %w", err)
	}

	subject, body := emailContent(notice)
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	msg.AddAlternativeString(mail.TypeTextHTML,
		"<html><body><div style=\"font-family: Arial, sans-serif;\">"+
			strings.ReplaceAll(html.EscapeString(body), "\n", "<br>")+
			"</div></body></html>")
	return msg, nil
}

func emailContent(notice CloseOut) (string, string) {
	a := notice.Auction

	var b strings.Builder
	fmt.Fprintf(&b, "Auction: %s\n", a.Title)
	if a.Description != "" {
		fmt.Fprintf(&b, "%s\n", a.Description)
	}
	fmt.Fprintf(&b, "\nStarting price: $%.2f\n", a.StartPrice)
	fmt.Fprintf(&b, "Final price: $%.2f\n", a.CurrentPrice)
	fmt.Fprintf(&b, "Bids: %d\n", a.BidCount)
	fmt.Fprintf(&b, "Closed: %s (%s)\n", notice.Timestamp.Format(time.RFC1123), a.Reason)
	fmt.Fprintf(&b, "Auction ID: %s\n", a.AuctionID)

	if !a.HasWinner {
		return "Auction ended without bids: " + a.Title, b.String()
	}
	fmt.Fprintf(&b, "\nWinner: %s (%s)\n", a.WinnerName, a.WinnerID)
	return fmt.Sprintf("Auction won by %s: %s", a.WinnerName, a.Title), b.String()
}
