package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreybb/hermes/models"
)

const sendgridMailEndpoint = "https://api.sendgrid.com/v3/mail/send"

// EmailChannel sends fulfillment notifications via the SendGrid v3 HTTP API:
// download links in the body, small local files as attachments.
type EmailChannel struct {
	apiKey    string
	fromEmail string
	fromName  string
	client    *http.Client
}

func NewEmailChannel(apiKey, fromEmail, fromName string) *EmailChannel {
	return &EmailChannel{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		client:    http.DefaultClient,
	}
}

func (c *EmailChannel) Type() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, plan models.NotificationPlan) error {
	if c.apiKey == "" || c.fromEmail == "" {
		return fmt.Errorf("email channel not configured: missing API key or from address")
	}

	attachments, err := buildAttachments(plan)
	if err != nil {
		return err
	}

	orderLabel := plan.OrderRef
	if orderLabel == "" {
		orderLabel = "Confirmed"
	}

	payload := sgMailPayload{
		Personalizations: []sgPersonalization{{
			To: []sgAddress{{Email: plan.RecipientEmail}},
		}},
		From:        sgAddress{Email: c.fromEmail, Name: c.fromName},
		Subject:     fmt.Sprintf("Your Digital Downloads - Order %s", orderLabel),
		Content:     []sgContent{{Type: "text/html", Value: buildEmailHTML(plan)}},
		Attachments: attachments,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal SendGrid payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendgridMailEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create SendGrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("SendGrid request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("SendGrid returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// buildAttachments reads and encodes every Attach-disposition file. The
// orchestrator already checked existence and size, but a file can disappear
// between planning and dispatch; that surfaces here as a send failure.
func buildAttachments(plan models.NotificationPlan) ([]sgAttachment, error) {
	var attachments []sgAttachment
	for _, item := range plan.Items {
		if item.Kind != models.DispositionAttach {
			continue
		}

		fileBytes, err := os.ReadFile(item.AttachPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", item.AttachPath, err)
		}

		contentType := mime.TypeByExtension(filepath.Ext(item.AttachPath))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		attachments = append(attachments, sgAttachment{
			Content:  base64.StdEncoding.EncodeToString(fileBytes),
			Type:     contentType,
			Filename: filepath.Base(item.AttachPath),
		})
	}
	return attachments, nil
}

func buildEmailHTML(plan models.NotificationPlan) string {
	var b strings.Builder
	b.WriteString("<p>Thanks for your purchase! Here are your downloads:</p><ul>")
	for _, item := range plan.Items {
		name := html.EscapeString(item.Name)
		switch item.Kind {
		case models.DispositionDirectLink:
			fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`, html.EscapeString(item.Link), name)
		case models.DispositionAttach:
			fmt.Fprintf(&b, "<li>%s (attached)</li>", name)
		case models.DispositionError:
			fmt.Fprintf(&b, "<li>%s &mdash; temporarily unavailable, we will follow up shortly</li>", name)
		}
	}
	b.WriteString("</ul><p>Download links expire in 1 hour. If a link times out, just reply and we'll refresh it.</p>")
	return b.String()
}

// SendGrid v3 Mail Send API payload types.
type sgMailPayload struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	Attachments      []sgAttachment      `json:"attachments,omitempty"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgAttachment struct {
	Content  string `json:"content"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
}
