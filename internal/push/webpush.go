package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/model"
)

// WebPush отправляет уведомления прямо на endpoint'ы браузеров без push-сервиса.
// Подписки хранятся в JSON-файле.
type WebPush struct {
	opts *webpush.Options
	path string

	mu   sync.Mutex
	subs []Subscription
}

// NewWebPush загружает подписки из path (отсутствующий файл, пустой список).
func NewWebPush(keys *VAPIDKeys, subscriber, path string) (*WebPush, error) {
	if keys == nil || keys.PublicKey == "" || keys.PrivateKey == "" {
		return nil, errors.New("push: VAPID keys required")
	}
	if subscriber == "" {
		subscriber = "msgsync"
	}
	w := &WebPush{
		opts: &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		},
		path: path,
	}
	if path == "" {
		return w, nil
	}
	subs, err := loadJSON[[]Subscription](path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("push: load subscriptions %s: %w", path, err)
	}
	w.subs = subs
	return w, nil
}

// PublicKey отдаётся браузеру для подписки.
func (w *WebPush) PublicKey() string { return w.opts.VAPIDPublicKey }

func (w *WebPush) Subscribe(_ context.Context, sub Subscription) error {
	if sub.Endpoint == "" {
		return errors.New("push: endpoint required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.subs {
		if w.subs[i].Endpoint == sub.Endpoint {
			w.subs[i] = sub
			return w.saveLocked()
		}
	}
	w.subs = append(w.subs, sub)
	return w.saveLocked()
}

func (w *WebPush) Unsubscribe(_ context.Context, endpoint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(endpoint)
	return w.saveLocked()
}

// Notify шлёт уведомление на все подписки. Подписки, на которые браузер
// ответил 404/410, удаляются.
func (w *WebPush) Notify(ctx context.Context, conv model.Conversation, msg model.Message) error {
	payload, err := json.Marshal(PayloadFor(conv, msg))
	if err != nil {
		return fmt.Errorf("push: payload: %w", err)
	}
	w.mu.Lock()
	subs := append([]Subscription(nil), w.subs...)
	w.mu.Unlock()

	var gone []string
	var errs []error
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, w.opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("push: send %s: %w", shortEndpoint(sub.Endpoint), err))
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			gone = append(gone, sub.Endpoint)
		case resp.StatusCode >= 300:
			errs = append(errs, fmt.Errorf("push: send %s: %d", shortEndpoint(sub.Endpoint), resp.StatusCode))
		}
	}
	if len(gone) > 0 {
		w.mu.Lock()
		for _, e := range gone {
			w.removeLocked(e)
		}
		if err := w.saveLocked(); err != nil {
			logger.Warnf("push: save subscriptions: %v", err)
		}
		w.mu.Unlock()
		logger.Infof("push: removed %d expired subscriptions", len(gone))
	}
	return errors.Join(errs...)
}

func (w *WebPush) removeLocked(endpoint string) {
	kept := w.subs[:0]
	for _, s := range w.subs {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	w.subs = kept
}

func (w *WebPush) saveLocked() error {
	if w.path == "" {
		return nil
	}
	return saveJSON(w.path, w.subs)
}

func (w *WebPush) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

func shortEndpoint(e string) string {
	return e[:min(50, len(e))]
}
