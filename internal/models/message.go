package models

import "time"

// Message is one scraped channel post as stored in the lake and in the raw
// warehouse layer. The JSON names are the lake file contract.
type Message struct {
	MessageID   int64     `json:"message_id" db:"message_id"`
	ChannelName string    `json:"channel_name" db:"channel_name"`
	MessageText string    `json:"message_text" db:"message_text"`
	Views       int       `json:"views" db:"views"`
	Forwards    int       `json:"forwards" db:"forwards"`
	MessageDate time.Time `json:"message_date" db:"message_date"`
	HasMedia    bool      `json:"has_media" db:"has_media"`
	ImagePath   *string   `json:"image_path" db:"image_path"` // relative to the lake base dir
}

// Key identifies a message across channels.
type Key struct {
	Channel string
	ID      int64
}

func (m Message) Key() Key {
	return Key{Channel: m.ChannelName, ID: m.MessageID}
}

// EnrichedMessage is a Message after translation and classification, with
// columns renamed to the vocabulary expected by the dbt models.
type EnrichedMessage struct {
	MessageID       int64     `db:"message_id"`
	ChannelKey      string    `db:"channel_key"`
	MessageText     string    `db:"message_text"`
	ViewCount       int       `db:"view_count"`
	Forwards        int       `db:"forwards"`
	MessageDate     time.Time `db:"message_date"`
	HasImage        bool      `db:"has_image"`
	ImagePath       *string   `db:"image_path"`
	ContentCategory string    `db:"content_category"`
	ToneLabel       string    `db:"tone_label"`
	TranslatedText  string    `db:"translated_text"`
	FinalCategory   string    `db:"final_category"`
}
