// Package wire переводит JSON бэкенда (REST и события сокета) в канонические типы model.
// Бэкенд непоследователен: id приходит как "_id" или "id", ссылка на пользователя
// приходит строкой или объектом, время строкой RFC 3339 или миллисекундами. Всё это
// нормализуется здесь, дальше границы такие формы не проходят.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrMissingID     = errors.New("wire: missing id")
	ErrMissingSender = errors.New("wire: missing sender")
	ErrMissingField  = errors.New("wire: missing required field")
)

var null = []byte("null")

func isNull(b []byte) bool {
	return len(b) == 0 || bytes.Equal(bytes.TrimSpace(b), null)
}

// Ref: ссылка на сущность: строка с id или объект с полями пользователя.
type Ref struct {
	ID       string
	Username string
	FullName string
	Avatar   string
}

type refObject struct {
	ID             string `json:"_id"`
	AltID          string `json:"id"`
	Username       string `json:"username"`
	FullName       string `json:"fullName"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profilePicture"`
	Avatar         string `json:"avatar"`
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if isNull(b) {
		*r = Ref{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Ref{ID: s}
		return nil
	}
	var o refObject
	if err := json.Unmarshal(b, &o); err != nil {
		return fmt.Errorf("wire ref: %w", err)
	}
	*r = Ref{
		ID:       firstNonEmpty(o.ID, o.AltID),
		Username: o.Username,
		FullName: firstNonEmpty(o.FullName, o.Name),
		Avatar:   firstNonEmpty(o.ProfilePicture, o.Avatar),
	}
	return nil
}

// Time принимает строку RFC 3339 или число миллисекунд с эпохи.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if isNull(b) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("wire time %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("wire time %s: %w", b, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstTime(vals ...Time) time.Time {
	for _, v := range vals {
		if !v.IsZero() {
			return v.Time
		}
	}
	return time.Time{}
}

func firstRef(refs ...Ref) Ref {
	for _, r := range refs {
		if r.ID != "" {
			return r
		}
	}
	return Ref{}
}
