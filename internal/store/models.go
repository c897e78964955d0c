package store

import (
	"encoding/json"
	"time"
)

type Category string

const (
	CategoryCareer       Category = "career"
	CategoryEmotions     Category = "emotions"
	CategoryProductivity Category = "productivity"
	CategoryOther        Category = "other"
)

// ParseCategory maps a raw value onto one of the known categories.
// Anything unrecognized becomes CategoryOther.
func ParseCategory(raw string) Category {
	switch c := Category(raw); c {
	case CategoryCareer, CategoryEmotions, CategoryProductivity, CategoryOther:
		return c
	default:
		return CategoryOther
	}
}

func Categories() []Category {
	return []Category{CategoryCareer, CategoryEmotions, CategoryProductivity, CategoryOther}
}

func (c Category) DisplayName() string {
	switch c {
	case CategoryCareer:
		return "Career"
	case CategoryEmotions:
		return "Emotions"
	case CategoryProductivity:
		return "Productivity"
	default:
		return "Other"
	}
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ParseCategory(raw)
	return nil
}

type Session struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Summary  string    `json:"summary,omitempty"`
	Category Category  `json:"category"`
	Date     time.Time `json:"date"`
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	IsFromUser bool      `json:"is_from_user"`
}

func (m Message) Sender() Sender {
	if m.IsFromUser {
		return SenderUser
	}
	return SenderBot
}
