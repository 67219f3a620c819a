package model

// UserRef: участник разговора в том виде, в каком его отдаёт бэкенд.
type UserRef struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName возвращает имя для индикатора набора и превью ответа.
func (u UserRef) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}
