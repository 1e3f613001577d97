package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mhmdmarshoud34/Talkify/internal/auth"
	"github.com/mhmdmarshoud34/Talkify/internal/config"
	"github.com/mhmdmarshoud34/Talkify/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	cfg        config.Config
	userSvc    *service.UserService
	contactSvc *service.ContactService
	channelSvc *service.ChannelService
	msgSvc     *service.MessageService
}

func NewHandler(cfg config.Config, userSvc *service.UserService, contactSvc *service.ContactService, channelSvc *service.ChannelService, msgSvc *service.MessageService) *Handler {
	return &Handler{cfg: cfg, userSvc: userSvc, contactSvc: contactSvc, channelSvc: channelSvc, msgSvc: msgSvc}
}

// Register 处理注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	if !strings.Contains(req.Email, "@") || len(req.Email) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	user, err := h.userSvc.Register(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "an account already exists with this email"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// Login 处理登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	result, err := h.userSvc.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Me 返回当前用户资料。
func (h *Handler) Me(c *gin.Context) {
	user, err := h.userSvc.Get(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("user info")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UpdateProfile 处理资料补全请求。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Color     int    `json:"color"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.FirstName == "" || req.LastName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "first name and last name are required"})
		return
	}
	user, err := h.userSvc.UpdateProfile(auth.GetUserID(c), req.FirstName, req.LastName, req.Color)
	if err != nil {
		log.Error().Err(err).Msg("update profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// AddProfileImage 保存上传的头像并更新资料。
func (h *Handler) AddProfileImage(c *gin.Context) {
	file, err := c.FormFile("profile-image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	dir := filepath.Join(h.cfg.UploadDir, "profiles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error().Err(err).Msg("profile image mkdir")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}
	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(file.Filename))
	dst := filepath.Join(dir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		log.Error().Err(err).Msg("profile image save")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}
	user, err := h.userSvc.SetImage(auth.GetUserID(c), dst)
	if err != nil {
		log.Error().Err(err).Msg("profile image update")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": user.Image})
}

// RemoveProfileImage 清除头像并删除磁盘文件。
func (h *Handler) RemoveProfileImage(c *gin.Context) {
	old, err := h.userSvc.RemoveImage(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("profile image remove")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove image"})
		return
	}
	if old != "" {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", old).Msg("profile image unlink")
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SearchContacts 按关键字检索联系人。
func (h *Handler) SearchContacts(c *gin.Context) {
	term := strings.TrimSpace(c.Query("term"))
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "term is required"})
		return
	}
	contacts, err := h.contactSvc.Search(auth.GetUserID(c), term)
	if err != nil {
		log.Error().Err(err).Msg("search contacts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search contacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

// AllContacts 返回可发起新会话的全部联系人。
func (h *Handler) AllContacts(c *gin.Context) {
	contacts, err := h.contactSvc.All(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("all contacts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list contacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

// DMContacts 返回有私聊往来的联系人，按最近消息倒序。
func (h *Handler) DMContacts(c *gin.Context) {
	contacts, err := h.contactSvc.DMList(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("dm contacts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list contacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

// DirectHistory 返回与某个联系人的私聊历史。
func (h *Handler) DirectHistory(c *gin.Context) {
	peerID, err := uuid.Parse(c.Query("peer_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer_id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var beforeID uuid.UUID
	if bid := c.Query("before_id"); bid != "" {
		if beforeID, err = uuid.Parse(bid); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before_id"})
			return
		}
	}
	msgs, err := h.msgSvc.History(auth.GetUserID(c), peerID, limit, beforeID)
	if err != nil {
		log.Error().Err(err).Str("peer_id", peerID.String()).Msg("direct history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// CreateChannel 处理创建频道请求。
func (h *Handler) CreateChannel(c *gin.Context) {
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel name"})
		return
	}
	memberIDs := make([]uuid.UUID, 0, len(req.MemberIDs))
	for _, raw := range req.MemberIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
			return
		}
		memberIDs = append(memberIDs, id)
	}
	channel, err := h.channelSvc.Create(req.Name, auth.GetUserID(c), memberIDs)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMembers) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "some members are not valid users"})
			return
		}
		log.Error().Err(err).Str("name", req.Name).Msg("create channel")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create channel"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"channel": channel})
}

// ListChannels 返回当前用户的频道列表。
func (h *Handler) ListChannels(c *gin.Context) {
	channels, err := h.channelSvc.ListForUser(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("list channels")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list channels"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// ChannelMessages 返回频道历史消息。
func (h *Handler) ChannelMessages(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var beforeSeq uint
	if bs := c.Query("before_seq"); bs != "" {
		if v, err := strconv.Atoi(bs); err == nil && v > 0 {
			beforeSeq = uint(v)
		}
	}
	msgs, err := h.channelSvc.Messages(channelID, limit, beforeSeq)
	if err != nil {
		if errors.Is(err, service.ErrChannelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		log.Error().Err(err).Str("channel_id", channelID.String()).Msg("channel messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
