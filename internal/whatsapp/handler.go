package whatsapp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const (
	maxPayloadBytes = 1 << 20
	redeliveryTTL   = 10 * time.Minute
	redeliveryMax   = 10000
)

type Handler struct {
	verifyToken string
	dispatcher  Dispatcher
	seen        *seenCache
	logger      *slog.Logger
}

func NewHandler(verifyToken string, dispatcher Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifyToken: verifyToken,
		dispatcher:  dispatcher,
		seen:        newSeenCache(redeliveryTTL, redeliveryMax),
		logger:      logger.With("component", "webhook"),
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

// VerifyWebhook answers the subscription handshake.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("webhook verification rejected", "mode", mode)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// HandleWebhook dispatches every text message in the delivery and
// acknowledges immediately. Missing fields are skipped, not errors.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&payload); err != nil {
		h.logger.Error("webhook payload rejected", "err", err)
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error"})
		return
	}

	for _, msg := range payload.messages() {
		body := msg.body()
		if msg.From == "" || body == "" {
			h.logger.Debug("webhook message skipped", "message_id", msg.ID, "type", msg.Type)
			continue
		}
		if msg.ID != "" && h.seen.CheckAndMark(msg.ID) {
			h.logger.Info("webhook redelivery ignored", "message_id", msg.ID)
			continue
		}
		if err := h.dispatcher.Handle(r.Context(), msg.From, body); err != nil {
			// a rejected message stays eligible for redelivery
			if msg.ID != "" {
				h.seen.Forget(msg.ID)
			}
			h.logger.Error("dispatch failed", "message_id", msg.ID, "err", err)
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
