// Package api, клиент REST-бэкенда сообщений. Бэкенд непрозрачен: клиент знает только
// форму эндпоинтов и нормализует ответы через package wire.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	errBodyLimit   = 4 << 10
)

var ErrNotFound = errors.New("api: not found")

// StatusError: ответ бэкенда с кодом не 2xx.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api.%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("api.%s: status %d: %s", e.Op, e.Code, e.Body)
}

// Is позволяет errors.Is(err, ErrNotFound) для 404.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client вызывает REST-бэкенд от имени одного пользователя (bearer-токен из конфига).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func pageQuery(page, limit int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return "?" + q.Encode()
}

func conversationPath(conversationID string, rest ...string) string {
	p := "/messages/" + url.PathEscape(conversationID)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

// do выполняет запрос и декодирует JSON-ответ в out (если out != nil и тело не пустое).
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	defer metrics.ObserveREST(op)()
	defer logger.DeferLogDuration("api."+op, time.Now())()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api.%s: marshal: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api.%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api.%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api.%s: read body: %w", op, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("api.%s: decode: %w", op, err)
	}
	return nil
}
