package service

import (
	"time"

	"github.com/mhmdmarshoud34/Talkify/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContactService 封装联系人检索相关的业务逻辑。
type ContactService struct {
	db *gorm.DB
}

func NewContactService(db *gorm.DB) *ContactService {
	return &ContactService{db: db}
}

// ContactDTO 是对外输出的联系人数据，DM 列表额外带最近一条消息时间。
type ContactDTO struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Image         string     `json:"image"`
	Color         int        `json:"color"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

func toContactDTO(u models.User) ContactDTO {
	return ContactDTO{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Image:     u.Image,
		Color:     u.Color,
	}
}

// Search 按邮箱或姓名模糊检索其他用户。
func (s *ContactService) Search(selfID uuid.UUID, term string) ([]ContactDTO, error) {
	pattern := "%" + term + "%"
	var users []models.User
	err := s.db.Where("id <> ?", selfID).
		Where("email ILIKE ? OR first_name ILIKE ? OR last_name ILIKE ?", pattern, pattern, pattern).
		Order("first_name, email").Limit(50).Find(&users).Error
	if err != nil {
		return nil, err
	}
	out := make([]ContactDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toContactDTO(u))
	}
	return out, nil
}

// All 返回除自己以外的全部用户，供新会话选择器使用。
func (s *ContactService) All(selfID uuid.UUID) ([]ContactDTO, error) {
	var users []models.User
	if err := s.db.Where("id <> ?", selfID).Order("first_name, email").Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]ContactDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toContactDTO(u))
	}
	return out, nil
}

type dmRow struct {
	ID        uuid.UUID
	Email     string
	FirstName string
	LastName  string
	Image     string
	Color     int
	LastAt    time.Time
}

// DMList 返回有过私聊往来的联系人，按最近一条消息倒序。
func (s *ContactService) DMList(selfID uuid.UUID) ([]ContactDTO, error) {
	var rows []dmRow
	err := s.db.Raw(`
		SELECT u.*, last.last_at
		FROM users u
		JOIN (
			SELECT CASE WHEN sender_id = @self THEN recipient_id ELSE sender_id END AS peer_id,
			       MAX(created_at) AS last_at
			FROM messages
			WHERE recipient_id IS NOT NULL AND (sender_id = @self OR recipient_id = @self)
			GROUP BY peer_id
		) last ON last.peer_id = u.id
		ORDER BY last.last_at DESC`,
		map[string]interface{}{"self": selfID},
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ContactDTO, 0, len(rows))
	for _, r := range rows {
		lastAt := r.LastAt
		out = append(out, ContactDTO{
			ID:            r.ID,
			Email:         r.Email,
			FirstName:     r.FirstName,
			LastName:      r.LastName,
			Image:         r.Image,
			Color:         r.Color,
			LastMessageAt: &lastAt,
		})
	}
	return out, nil
}
