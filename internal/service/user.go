package service

import (
	"errors"
	"time"

	"github.com/mhmdmarshoud34/Talkify/internal/auth"
	"github.com/mhmdmarshoud34/Talkify/internal/config"
	"github.com/mhmdmarshoud34/Talkify/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserService 封装账号相关的业务逻辑：注册、登录、资料维护。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

// UserDTO 是对外输出的用户数据。
type UserDTO struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Image        string    `json:"image"`
	Color        int       `json:"color"`
	ProfileSetup bool      `json:"profile_setup"`
}

func toUserDTO(u models.User) UserDTO {
	return UserDTO{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Image:        u.Image,
		Color:        u.Color,
		ProfileSetup: u.ProfileSetup,
	}
}

// Register 注册新账号。资料尚未补全（profile_setup=false），
// 需要随后调用 UpdateProfile。
func (s *UserService) Register(email, password string) (*UserDTO, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Email: email, PasswordHash: hash}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	dto := toUserDTO(user)
	return &dto, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	User         UserDTO `json:"user"`
}

// Login 校验邮箱密码并签发 token 对。
func (s *UserService) Login(email, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, user.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(s.db, user.ID, rt, exp); err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: toUserDTO(user)}, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			return err
		}
		if err := auth.RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		var user models.User
		if err := tx.First(&user, "id = ?", rec.UserID).Error; err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(user.ID, user.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := auth.SaveRefreshToken(tx, user.ID, newRT, exp); err != nil {
			return err
		}
		result.AccessToken = at
		result.RefreshToken = newRT
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Get 返回单个用户的资料。
func (s *UserService) Get(userID uuid.UUID) (*UserDTO, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	dto := toUserDTO(user)
	return &dto, nil
}

// UpdateProfile 补全姓名与颜色，标记资料已设置。
func (s *UserService) UpdateProfile(userID uuid.UUID, firstName, lastName string, color int) (*UserDTO, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.FirstName = firstName
	user.LastName = lastName
	user.Color = color
	user.ProfileSetup = true
	updates := map[string]interface{}{
		"first_name":    firstName,
		"last_name":     lastName,
		"color":         color,
		"profile_setup": true,
	}
	if err := s.db.Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}
	dto := toUserDTO(user)
	return &dto, nil
}

// SetImage 更新头像路径，返回更新后的资料。
func (s *UserService) SetImage(userID uuid.UUID, image string) (*UserDTO, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := s.db.Model(&user).Update("image", image).Error; err != nil {
		return nil, err
	}
	user.Image = image
	dto := toUserDTO(user)
	return &dto, nil
}

// RemoveImage 清除头像路径，返回原路径供调用方删除文件。
func (s *UserService) RemoveImage(userID uuid.UUID) (string, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	old := user.Image
	if err := s.db.Model(&user).Update("image", "").Error; err != nil {
		return "", err
	}
	return old, nil
}
