package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreybb/hermes/models"
)

const (
	fulfillmentCardColor = 3066993
	alertCardColor       = 15158332
)

// DiscordChannel posts fulfillment cards to a Discord webhook. The card
// carries per-item fields plus a paste-ready customer message, so the team
// can follow up manually if email delivery has problems. It also doubles as
// the operator alert channel for configuration gaps.
type DiscordChannel struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordChannel(webhookURL string) *DiscordChannel {
	return &DiscordChannel{
		webhookURL: webhookURL,
		client:     http.DefaultClient,
	}
}

func (c *DiscordChannel) Type() string { return "discord" }

func (c *DiscordChannel) Send(ctx context.Context, plan models.NotificationPlan) error {
	description := fmt.Sprintf("Order for **%s**", plan.RecipientEmail)
	if plan.OrderRef != "" {
		description += fmt.Sprintf("\nSession/Payment: `%s`", plan.OrderRef)
	}

	fields := []discordField{{Name: "Customer", Value: plan.RecipientEmail, Inline: true}}
	for _, item := range plan.Items {
		switch item.Kind {
		case models.DispositionDirectLink:
			fields = append(fields, discordField{Name: item.Name, Value: item.Link})
		case models.DispositionAttach:
			fields = append(fields, discordField{Name: item.Name, Value: fmt.Sprintf("(local file) %s", item.AttachPath)})
		case models.DispositionError:
			fields = append(fields, discordField{Name: item.Name, Value: fmt.Sprintf("(failed) %s", item.Reason)})
		}
	}
	fields = append(fields, discordField{Name: "Customer Email Template", Value: customerTemplate(plan)})

	return c.post(ctx, discordEmbed{
		Title:       "New Digital Order — Ready to Send",
		Description: description,
		Color:       fulfillmentCardColor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields:      fields,
	})
}

// Alert posts an operator-actionable notice, e.g. a sold item with no
// configured deliverable.
func (c *DiscordChannel) Alert(ctx context.Context, title, description string) error {
	return c.post(ctx, discordEmbed{
		Title:       title,
		Description: description,
		Color:       alertCardColor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *DiscordChannel) post(ctx context.Context, embed discordEmbed) error {
	if c.webhookURL == "" {
		return fmt.Errorf("discord channel not configured: missing webhook URL")
	}

	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("failed to marshal Discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("Discord request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Discord returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// customerTemplate renders a plain-text message the team can paste straight
// into a reply to the customer.
func customerTemplate(plan models.NotificationPlan) string {
	lines := []string{
		fmt.Sprintf("Hi %s,", plan.RecipientEmail),
		"",
		"Thanks for your purchase! Here are your downloads:",
	}
	for _, item := range plan.Items {
		switch item.Kind {
		case models.DispositionDirectLink:
			lines = append(lines, fmt.Sprintf("• %s → %s", item.Name, item.Link))
		case models.DispositionAttach:
			lines = append(lines, fmt.Sprintf("• %s → attached to your email", item.Name))
		case models.DispositionError:
			lines = append(lines, fmt.Sprintf("• %s → (no link generated)", item.Name))
		}
	}
	lines = append(lines,
		"",
		"Links expire in 1 hour. If a link times out, reply and we'll refresh it.",
	)
	return strings.Join(lines, "\n")
}

// Discord webhook payload types.
type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}
