package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-core/nexus/internal/sessions"
	"github.com/nexus-core/nexus/pkg/models"
)

// WebhookConfig holds the per-provider secrets §6's inbound webhook surface
// needs. ChatwootSecret is read from CHATWOOT_WEBHOOK_SECRET by whatever
// wires up the Server (cmd/nexus's config loader), not by this package.
type WebhookConfig struct {
	ChatwootSecret      string
	WhatsAppVerifyToken string
}

var webhookProviders = map[string]models.ChannelType{
	"telegram": models.ChannelTelegram,
	"whatsapp": models.ChannelWhatsApp,
	"slack":    models.ChannelSlack,
}

type webhookAck struct {
	OK bool `json:"ok"`
}

// handleInboundWebhook implements POST /webhooks/{provider}/{integrationId}.
// It MUST ack within the platform's budget (<=5s) and do the actual turn
// asynchronously, so the handler only validates the provider name before
// replying 200 and dispatching a goroutine. A body that cannot be read or
// decoded is still acked with 200; no turn is started for it.
func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	integrationID := r.PathValue("id")
	channel, ok := webhookProviders[provider]
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: webhookAck{OK: true}})
		return
	}

	var payload struct {
		ConversationID string `json:"conversationId"`
		Text           string `json:"text"`
	}
	_ = json.Unmarshal(body, &payload)

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: webhookAck{OK: true}})

	if payload.Text == "" {
		return
	}
	go s.processInboundAsync(channel, integrationID, payload.ConversationID, payload.Text)
}

// processInboundAsync resolves/creates the session for this channel
// conversation and runs a turn in the background, serialized per session by
// sessions.LocalLocker — one worker per (channel, conversation) key, the
// same per-session serialization internal/sessions/locker.go provides for
// the rest of the engine.
func (s *Server) processInboundAsync(channel models.ChannelType, integrationID, conversationID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var turnErr error
	if s.Metrics != nil {
		defer func() { s.Metrics.RecordWebhook(string(channel), turnErr) }()
	}

	if conversationID == "" {
		conversationID = integrationID
	}
	key := sessions.SessionKey(integrationID, channel, conversationID)
	if s.webhookLocker != nil {
		if err := s.webhookLocker.Lock(ctx, key); err != nil {
			if s.Logger != nil {
				s.Logger.Error("webhook session lock failed", "key", key, "error", err)
			}
			turnErr = err
			return
		}
		defer s.webhookLocker.Unlock(key)
	}

	session, err := s.Sessions.GetOrCreate(ctx, key, integrationID, channel, conversationID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("webhook session resolution failed", "key", key, "error", err)
		}
		turnErr = err
		return
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   channel,
		ChannelID: conversationID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	}

	chunks, err := s.Loop.Run(ctx, session, msg)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("webhook turn failed to start", "session_id", session.ID, "error", err)
		}
		turnErr = err
		return
	}
	for chunk := range chunks {
		if chunk.Error != nil {
			if s.Logger != nil {
				s.Logger.Error("webhook turn ended in error", "session_id", session.ID, "error", chunk.Error)
			}
			turnErr = chunk.Error
		}
	}
}

// handleWhatsAppVerify implements the Meta hub challenge:
// GET /webhooks/whatsapp/{id}/verify?hub.mode=subscribe&hub.verify_token=...&hub.challenge=...
func (s *Server) handleWhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != s.Webhooks.WhatsAppVerifyToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// handleChatwootWebhook validates x-chatwoot-api-signature as
// HMAC-SHA256(body, secret) in constant time before dispatching, per §6.
func (s *Server) handleChatwootWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	mac := hmac.New(sha256.New, []byte(s.Webhooks.ChatwootSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(r.Header.Get("x-chatwoot-api-signature"))) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload struct {
		Conversation struct {
			ID int `json:"id"`
		} `json:"conversation"`
		Content string `json:"content"`
	}
	_ = json.Unmarshal(body, &payload)

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: webhookAck{OK: true}})

	if payload.Content == "" {
		return
	}
	go s.processInboundAsync(models.ChannelChatwoot, "chatwoot", itoa(payload.Conversation.ID), payload.Content)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
