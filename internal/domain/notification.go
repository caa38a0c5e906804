package domain

import "time"

// Importance mirrors the platform notification importance levels.
type Importance int

const (
	ImportanceNone Importance = iota
	ImportanceMin
	ImportanceLow
	ImportanceDefault
	ImportanceHigh
)

// Channel is a notification channel. Creating one that already exists is a no-op.
type Channel struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Importance Importance `json:"importance"`
}

// Notification is the persistent notification shown while a service runs in the foreground.
type Notification struct {
	ID        int       `json:"id"`
	ChannelID string    `json:"channel_id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Ticker    string    `json:"ticker"`
	Ongoing   bool      `json:"ongoing"`
	CreatedAt time.Time `json:"created"`
}
