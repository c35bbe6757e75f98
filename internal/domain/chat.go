package domain

import "time"

// Conversation binds one client and one professional to one job.
type Conversation struct {
	ID             string     `json:"id"              gorm:"type:char(36);primaryKey"`
	JobID          string     `json:"job_id"          gorm:"type:char(36);not null;uniqueIndex:ux_conversations_job"`
	ClientID       string     `json:"client_id"       gorm:"type:char(36);not null;index"`
	ProfessionalID string     `json:"professional_id" gorm:"type:char(36);not null;index"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Job Job `json:"-" gorm:"foreignKey:JobID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ClientID == userID || c.ProfessionalID == userID
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.ClientID == userID {
		return c.ProfessionalID
	}
	return c.ClientID
}

// MessageType classifies message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage || t == MessageFile
}

// Message is immutable once created apart from ReadAt, which only ever moves
// from nil to a timestamp. Seq is strictly increasing per conversation and
// defines delivery order.
type Message struct {
	ID             string      `json:"id"                 gorm:"type:char(36);primaryKey"`
	ConversationID string      `json:"conversation_id"    gorm:"type:char(36);not null;uniqueIndex:ux_conversation_seq,priority:1"`
	Seq            int64       `json:"seq"                gorm:"not null;uniqueIndex:ux_conversation_seq,priority:2"`
	SenderID       string      `json:"sender_id"          gorm:"type:char(36);not null"`
	Type           MessageType `json:"type"               gorm:"type:varchar(8);not null"`
	Content        string      `json:"content"            gorm:"type:text"`
	FileURL        string      `json:"file_url,omitempty" gorm:"type:varchar(1024)"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Notification is a per-user inbox entry, also pushed over the chat channel.
type Notification struct {
	ID        string     `json:"id"                gorm:"type:char(36);primaryKey"`
	UserID    string     `json:"user_id"           gorm:"type:char(36);not null;index:idx_user_notifications,priority:1"`
	Type      string     `json:"type"              gorm:"type:varchar(64);not null"`
	Title     string     `json:"title"             gorm:"type:varchar(255);not null"`
	Body      string     `json:"body"              gorm:"type:text"`
	JobID     *string    `json:"job_id,omitempty"  gorm:"type:char(36)"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"        gorm:"index:idx_user_notifications,priority:2"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }
