package service

import (
	"time"

	"github.com/mhmdmarshoud34/Talkify/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChannelService 封装频道的创建与查询。频道消息的实时广播在
// internal/ws，这里只负责 REST 侧的频道管理与历史读取。
type ChannelService struct {
	db *gorm.DB
}

func NewChannelService(db *gorm.DB) *ChannelService {
	return &ChannelService{db: db}
}

// ChannelDTO 是对外输出的频道数据。
type ChannelDTO struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	AdminID   uuid.UUID   `json:"admin_id"`
	MemberIDs []uuid.UUID `json:"member_ids"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func toChannelDTO(ch models.Channel) ChannelDTO {
	members := make([]uuid.UUID, 0, len(ch.Members))
	for _, m := range ch.Members {
		members = append(members, m.ID)
	}
	return ChannelDTO{ID: ch.ID, Name: ch.Name, AdminID: ch.AdminID, MemberIDs: members, UpdatedAt: ch.UpdatedAt}
}

// Create 创建频道。成员必须是已存在的用户，管理员不计入成员列表。
func (s *ChannelService) Create(name string, adminID uuid.UUID, memberIDs []uuid.UUID) (*ChannelDTO, error) {
	var members []models.User
	if len(memberIDs) > 0 {
		if err := s.db.Where("id IN ?", memberIDs).Find(&members).Error; err != nil {
			return nil, err
		}
		if len(members) != len(memberIDs) {
			return nil, ErrInvalidMembers
		}
	}
	ch := models.Channel{Name: name, AdminID: adminID, Members: members}
	if err := s.db.Create(&ch).Error; err != nil {
		return nil, err
	}
	dto := toChannelDTO(ch)
	return &dto, nil
}

// ListForUser 返回用户管理或加入的频道，最近活跃的在前。
func (s *ChannelService) ListForUser(userID uuid.UUID) ([]ChannelDTO, error) {
	var channels []models.Channel
	err := s.db.Preload("Members").
		Where("admin_id = ? OR id IN (SELECT channel_id FROM channel_members WHERE user_id = ?)", userID, userID).
		Order("updated_at desc").Find(&channels).Error
	if err != nil {
		return nil, err
	}
	out := make([]ChannelDTO, 0, len(channels))
	for _, ch := range channels {
		out = append(out, toChannelDTO(ch))
	}
	return out, nil
}

// ChannelMessageDTO 是频道历史消息，带发送方展示属性。
type ChannelMessageDTO struct {
	ID          uuid.UUID `json:"id"`
	ChannelID   uuid.UUID `json:"channel_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	SenderImage string    `json:"sender_image"`
	SenderColor int       `json:"sender_color"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
	FileURL     string    `json:"file_url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Messages 按追加顺序分页返回频道历史，before_seq 为上一页最早一条的日志序号。
func (s *ChannelService) Messages(channelID uuid.UUID, limit int, beforeSeq uint) ([]ChannelMessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var count int64
	if err := s.db.Model(&models.Channel{}).Where("id = ?", channelID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrChannelNotFound
	}

	q := s.db.Where("channel_id = ?", channelID)
	if beforeSeq > 0 {
		q = q.Where("id < ?", beforeSeq)
	}
	var links []models.ChannelMessage
	if err := q.Order("id desc").Limit(limit).Find(&links).Error; err != nil {
		return nil, err
	}
	// 反转为追加顺序
	for i, j := 0, len(links)-1; i < j; i, j = i+1, j-1 {
		links[i], links[j] = links[j], links[i]
	}

	msgIDs := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		msgIDs = append(msgIDs, l.MessageID)
	}
	byID := make(map[uuid.UUID]models.Message, len(msgIDs))
	if len(msgIDs) > 0 {
		var msgs []models.Message
		if err := s.db.Where("id IN ?", msgIDs).Find(&msgs).Error; err != nil {
			return nil, err
		}
		for _, m := range msgs {
			byID[m.ID] = m
		}
	}
	senders, err := resolveSenders(s.db, byID)
	if err != nil {
		return nil, err
	}

	out := make([]ChannelMessageDTO, 0, len(links))
	for _, l := range links {
		m, ok := byID[l.MessageID]
		if !ok {
			continue
		}
		u := senders[m.SenderID]
		out = append(out, ChannelMessageDTO{
			ID:          m.ID,
			ChannelID:   channelID,
			SenderID:    m.SenderID,
			SenderName:  u.FirstName + " " + u.LastName,
			SenderImage: u.Image,
			SenderColor: u.Color,
			MessageType: m.MessageType,
			Content:     m.Content,
			FileURL:     m.FileURL,
			Timestamp:   m.CreatedAt,
		})
	}
	return out, nil
}

// resolveSenders 批量获取消息涉及的发送方。
func resolveSenders(db *gorm.DB, msgs map[uuid.UUID]models.Message) (map[uuid.UUID]models.User, error) {
	seen := make(map[uuid.UUID]struct{}, len(msgs))
	senderIDs := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		senderIDs = append(senderIDs, m.SenderID)
	}

	senders := make(map[uuid.UUID]models.User, len(senderIDs))
	if len(senderIDs) > 0 {
		var users []models.User
		if err := db.Where("id IN ?", senderIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			senders[u.ID] = u
		}
	}
	return senders, nil
}
