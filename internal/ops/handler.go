package ops

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/transcript"
)

const (
	serviceName     = "WhatsApp ChatBot"
	noHistoryString = "No chat history found"
)

// Transcripts is the read side of the transcript store.
type Transcripts interface {
	Read(identity string) (string, bool, error)
	Entries(identity string) ([]transcript.Entry, error)
	Identities() ([]string, error)
}

type Handler struct {
	transcripts Transcripts
	logger      *slog.Logger
	now         func() time.Time
}

func NewHandler(transcripts Transcripts, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		transcripts: transcripts,
		logger:      logger.With("component", "ops"),
		now:         time.Now,
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

type historyResponse struct {
	PhoneNumber string `json:"phone_number"`
	ChatHistory string `json:"chat_history"`
}

type entryResponse struct {
	Timestamp string `json:"timestamp"`
	Role      string `json:"role"`
	Text      string `json:"text"`
}

type entriesResponse struct {
	PhoneNumber string          `json:"phone_number"`
	Entries     []entryResponse `json:"entries"`
}

type activeChatsResponse struct {
	ActiveChats []string `json:"active_chats"`
	TotalChats  int      `json:"total_chats"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: h.now().Format(time.RFC3339),
		Service:   serviceName,
	})
}

func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	content, ok, err := h.transcripts.Read(identity)
	if err != nil && !errors.Is(err, transcript.ErrInvalidIdentity) {
		h.internalError(w, "read chat history", identity, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, historyResponse{PhoneNumber: identity, ChatHistory: noHistoryString})
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{PhoneNumber: identity, ChatHistory: content})
}

// ChatEntries returns the same history parsed into entries.
func (h *Handler) ChatEntries(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	entries, err := h.transcripts.Entries(identity)
	if err != nil && !errors.Is(err, transcript.ErrInvalidIdentity) {
		h.internalError(w, "parse chat history", identity, err)
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusNotFound, historyResponse{PhoneNumber: identity, ChatHistory: noHistoryString})
		return
	}

	out := entriesResponse{PhoneNumber: identity, Entries: make([]entryResponse, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, entryResponse{
			Timestamp: e.Timestamp.Format(transcript.TimestampLayout),
			Role:      string(e.Role),
			Text:      e.Text,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ActiveChats(w http.ResponseWriter, _ *http.Request) {
	ids, err := h.transcripts.Identities()
	if err != nil {
		h.internalError(w, "list chats", "", err)
		return
	}
	writeJSON(w, http.StatusOK, activeChatsResponse{ActiveChats: ids, TotalChats: len(ids)})
}

func (h *Handler) internalError(w http.ResponseWriter, op, identity string, err error) {
	h.logger.Error(op+" failed", "identity", identity, "err", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
