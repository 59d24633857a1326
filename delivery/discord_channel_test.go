package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coreybb/hermes/models"
)

func TestDiscordSendPostsFulfillmentCard(t *testing.T) {
	var received discordPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	channel := NewDiscordChannel(server.URL)
	plan := models.NotificationPlan{
		RecipientEmail: "buyer@example.com",
		OrderRef:       "cs_test_1",
		Items: []models.ItemDisposition{
			{Name: "Pack A", Kind: models.DispositionDirectLink, Link: "https://dl.example.com/download/tok"},
			{Name: "Pack B", Kind: models.DispositionError, Reason: "file not found"},
		},
	}

	if err := channel.Send(context.Background(), plan); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(received.Embeds) != 1 {
		t.Fatalf("got %d embeds, want 1", len(received.Embeds))
	}
	embed := received.Embeds[0]
	if !strings.Contains(embed.Description, "buyer@example.com") || !strings.Contains(embed.Description, "cs_test_1") {
		t.Errorf("description = %q", embed.Description)
	}

	// Customer field + one per item + paste-ready template.
	if len(embed.Fields) != 4 {
		t.Fatalf("got %d fields, want 4: %+v", len(embed.Fields), embed.Fields)
	}
	template := embed.Fields[len(embed.Fields)-1]
	if template.Name != "Customer Email Template" {
		t.Errorf("last field = %q", template.Name)
	}
	if !strings.Contains(template.Value, "Pack A → https://dl.example.com/download/tok") {
		t.Errorf("template missing link line: %q", template.Value)
	}
}

func TestDiscordSendRejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	if err := NewDiscordChannel(server.URL).Send(context.Background(), testPlan()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestDiscordAlert(t *testing.T) {
	var received discordPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := NewDiscordChannel(server.URL).Alert(context.Background(), "Unmapped purchase", "event evt_1"); err != nil {
		t.Fatalf("Alert failed: %v", err)
	}
	if len(received.Embeds) != 1 || received.Embeds[0].Title != "Unmapped purchase" {
		t.Fatalf("embeds = %+v", received.Embeds)
	}
}

func TestDiscordUnconfigured(t *testing.T) {
	if err := NewDiscordChannel("").Send(context.Background(), testPlan()); err == nil {
		t.Fatal("expected error when webhook URL is missing")
	}
}
