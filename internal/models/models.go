package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息类型：text 为纯文本，file 为文件消息（content 为空，file_url 必填）。
const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string    `gorm:"not null"`
	FirstName    string    `gorm:"size:64"`
	LastName     string    `gorm:"size:64"`
	Image        string    `gorm:"size:256"`
	Color        int
	ProfileSetup bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Message 同时承载私聊与频道消息：频道消息的 RecipientID 为 nil。
// 记录只创建、不修改、不删除。
type Message struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SenderID    uuid.UUID  `gorm:"type:uuid;index;not null"`
	RecipientID *uuid.UUID `gorm:"type:uuid;index"`
	MessageType string     `gorm:"size:16;not null"`
	Content     string     `gorm:"type:text"`
	FileURL     string     `gorm:"size:256"`
	CreatedAt   time.Time  `gorm:"index"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

type Channel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"size:128;not null"`
	AdminID   uuid.UUID `gorm:"type:uuid;index;not null"`
	Members   []User    `gorm:"many2many:channel_members"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ChannelMessage 是频道的有序追加消息日志，自增主键即追加顺序。
type ChannelMessage struct {
	ID        uint      `gorm:"primaryKey"`
	ChannelID uuid.UUID `gorm:"type:uuid;index;not null"`
	MessageID uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
