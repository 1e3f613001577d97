package service

import (
	"errors"
	"time"

	"github.com/mhmdmarshoud34/Talkify/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageService 封装私聊历史的读取。离线期间错过的消息全靠这里补拉，
// 中继核心自身不做任何离线重投。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// DirectMessageDTO 是对外输出的私聊消息数据。
type DirectMessageDTO struct {
	ID          uuid.UUID `json:"id"`
	SenderID    uuid.UUID `json:"sender_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
	FileURL     string    `json:"file_url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// History 分页查询两个用户之间的私聊消息，按时间升序返回。
// beforeID 指定上一页最早一条消息，用其落库时间做游标。
func (s *MessageService) History(selfID, peerID uuid.UUID, limit int, beforeID uuid.UUID) ([]DirectMessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.Where(
		"(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
		selfID, peerID, peerID, selfID,
	)
	if beforeID != uuid.Nil {
		var cursor models.Message
		if err := s.db.First(&cursor, "id = ?", beforeID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		} else {
			q = q.Where("created_at < ?", cursor.CreatedAt)
		}
	}

	var msgs []models.Message
	if err := q.Order("created_at desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	out := make([]DirectMessageDTO, 0, len(msgs))
	for _, m := range msgs {
		dto := DirectMessageDTO{
			ID:          m.ID,
			SenderID:    m.SenderID,
			MessageType: m.MessageType,
			Content:     m.Content,
			FileURL:     m.FileURL,
			Timestamp:   m.CreatedAt,
		}
		if m.RecipientID != nil {
			dto.RecipientID = *m.RecipientID
		}
		out = append(out, dto)
	}
	return out, nil
}
