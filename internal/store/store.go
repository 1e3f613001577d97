package store

import (
	"context"
	"errors"
	"time"

	"github.com/mhmdmarshoud34/Talkify/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrChannelNotFound = errors.New("channel not found")

// Store 是中继核心使用的持久化网关，封装消息写入、展示属性联查
// 以及频道成员/消息日志的读写。
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UserRef 是随消息下发的发送方/接收方展示属性。
type UserRef struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Image     string    `json:"image"`
	Color     int       `json:"color"`
}

// EnrichedMessage 是已落库消息加上联查出的用户展示属性，
// 即下发给客户端的载荷。频道消息的 Recipient 为 nil。
type EnrichedMessage struct {
	ID          uuid.UUID `json:"id"`
	Sender      UserRef   `json:"sender"`
	Recipient   *UserRef  `json:"recipient,omitempty"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
	FileURL     string    `json:"file_url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChannelRoster 是广播所需的频道名册：管理员加成员集合。
type ChannelRoster struct {
	ChannelID uuid.UUID
	Admin     uuid.UUID
	Members   []uuid.UUID
}

// CreateMessage 落库一条消息，回填生成的 ID 与时间戳。
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	return s.db.WithContext(ctx).Create(m).Error
}

// MessageEnriched 取回已落库消息并联查发送方（及接收方，若有）的展示属性。
func (s *Store) MessageEnriched(ctx context.Context, id uuid.UUID) (*EnrichedMessage, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	var sender models.User
	if err := s.db.WithContext(ctx).First(&sender, "id = ?", m.SenderID).Error; err != nil {
		return nil, err
	}
	out := &EnrichedMessage{
		ID:          m.ID,
		Sender:      userRef(sender),
		MessageType: m.MessageType,
		Content:     m.Content,
		FileURL:     m.FileURL,
		Timestamp:   m.CreatedAt,
	}
	if m.RecipientID != nil {
		var recipient models.User
		if err := s.db.WithContext(ctx).First(&recipient, "id = ?", *m.RecipientID).Error; err != nil {
			return nil, err
		}
		ref := userRef(recipient)
		out.Recipient = &ref
	}
	return out, nil
}

// AppendToChannel 把消息追加到频道的有序消息日志。
func (s *Store) AppendToChannel(ctx context.Context, channelID, messageID uuid.UUID) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Channel{}).Where("id = ?", channelID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrChannelNotFound
	}
	link := models.ChannelMessage{ChannelID: channelID, MessageID: messageID}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		return err
	}
	// 频道列表按最近活跃排序，追加消息时顺手更新 updated_at。
	return s.db.WithContext(ctx).Model(&models.Channel{}).Where("id = ?", channelID).
		Update("updated_at", time.Now()).Error
}

// ChannelRoster 返回频道管理员与成员集合。
func (s *Store) ChannelRoster(ctx context.Context, channelID uuid.UUID) (*ChannelRoster, error) {
	var ch models.Channel
	err := s.db.WithContext(ctx).Preload("Members").First(&ch, "id = ?", channelID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	roster := &ChannelRoster{ChannelID: ch.ID, Admin: ch.AdminID, Members: make([]uuid.UUID, 0, len(ch.Members))}
	for _, m := range ch.Members {
		roster.Members = append(roster.Members, m.ID)
	}
	return roster, nil
}

func userRef(u models.User) UserRef {
	return UserRef{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Image:     u.Image,
		Color:     u.Color,
	}
}
