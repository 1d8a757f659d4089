package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	colorEnded  = 0x2ecc71
	colorClosed = 0xe67e22
)

// DiscordSender posts close-out summaries to a Discord webhook
type DiscordSender struct {
	session   *discordgo.Session
	webhookID string
	token     string
}

// NewDiscordSender creates a sender for a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}
func NewDiscordSender(webhookURL string) (*DiscordSender, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}

	// webhooks authenticate through the token in the path
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &DiscordSender{session: session, webhookID: id, token: token}, nil
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("discord: parse webhook url: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord: webhook url %q has no /webhooks/{id}/{token} path", u.Redacted())
}

// Send posts an embed summarising notice
func (d *DiscordSender) Send(ctx context.Context, notice CloseOut) error {
	a := notice.Auction

	winner := "No bids"
	if a.HasWinner {
		winner = a.WinnerName
	}
	color := colorEnded
	title := "Auction ended: " + a.Title
	if a.Reason == "manual" {
		color = colorClosed
		title = "Auction closed: " + a.Title
	}

	params := &discordgo.WebhookParams{
		Username: "Auction House",
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: a.Description,
			Color:       color,
			Timestamp:   notice.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Final price", Value: fmt.Sprintf("$%.2f", a.CurrentPrice), Inline: true},
				{Name: "Winner", Value: winner, Inline: true},
				{Name: "Bids", Value: fmt.Sprintf("%d", a.BidCount), Inline: true},
			},
			Footer: &discordgo.MessageEmbedFooter{Text: a.AuctionID},
		}},
	}

	if _, err := d.session.WebhookExecute(d.webhookID, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: execute webhook: %w", err)
	}
	return nil
}

// Name returns the sender identifier
func (d *DiscordSender) Name() string {
	return "discord"
}
