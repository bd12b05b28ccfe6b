package ops

import "github.com/go-chi/chi/v5"

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/health", h.Health)
	r.Get("/chat-history/{identity}", h.ChatHistory)
	r.Get("/chat-history/{identity}/entries", h.ChatEntries)
	r.Get("/active-chats", h.ActiveChats)
}
