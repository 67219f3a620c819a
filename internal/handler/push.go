package handler

import (
	"context"
	"net/http"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/push"
)

// Subscriptions: push.Client (через push-сервис) или push.WebPush (файл подписок).
type Subscriptions interface {
	Subscribe(ctx context.Context, sub push.Subscription) error
	Unsubscribe(ctx context.Context, endpoint string) error
}

// PushHandler обрабатывает подписку UI на уведомления.
type PushHandler struct {
	subs Subscriptions
}

func NewPushHandler(subs Subscriptions) *PushHandler {
	return &PushHandler{subs: subs}
}

// SubscribeRequest: тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Subscription.Endpoint == "" || req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	if err := h.subs.Subscribe(r.Context(), req.Subscription); err != nil {
		logger.Errorf("push subscribe: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest: тело для отписки по endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.subs.Unsubscribe(r.Context(), req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
