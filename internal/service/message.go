package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"groupchat/internal/apperr"
	"groupchat/internal/events"
	"groupchat/internal/models"

	"github.com/rs/xid"
	"gorm.io/gorm"
)

const maxContent = 500

// MessageView 是消息的对外形态，与实时 message 事件的负载一致。
type MessageView = events.MessagePayload

func viewOf(m *models.Message, author *models.User) MessageView {
	return MessageView{
		MessageID: m.ID,
		Content:   m.Content,
		Username:  author.Username,
		Author:    author.ID,
		Channel:   m.RoomID,
		Nickname:  author.Nickname,
		Avatar:    author.Avatar,
		Banner:    author.Banner,
		About:     author.About,
		Timestamp: strconv.FormatInt(m.Timestamp, 10),
	}
}

func normalizeContent(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || len([]rune(s)) > maxContent {
		return "", apperr.Invalid("content must be 1-500 characters")
	}
	return s, nil
}

// MessageService persists room messages and fans each mutation out to the
// room's live connections.
type MessageService struct {
	db  *gorm.DB
	bc  Broadcaster
	now func() time.Time
}

func NewMessageService(db *gorm.DB, bc Broadcaster) *MessageService {
	return &MessageService{db: db, bc: bc, now: time.Now}
}

// Send 校验成员身份后持久化消息并广播 message 事件。
func (s *MessageService) Send(ctx context.Context, author *models.User, roomID string, isDM bool, content string) (*MessageView, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(ctx, s.db, author.ID, roomID, isDM); err != nil {
		return nil, err
	}
	msg := models.Message{
		ID:        xid.New().String(),
		RoomID:    roomID,
		AuthorID:  author.ID,
		Content:   content,
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}
	view := viewOf(&msg, author)
	s.bc.Broadcast(roomID, events.Message, view)
	return &view, nil
}

// Edit 只允许作者修改；条件更新未命中任何行即视为无权限。
func (s *MessageService) Edit(ctx context.Context, userID, roomID, messageID, content string) (*events.MessageEditPayload, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND room_id = ? AND author_id = ?", messageID, roomID, userID).
		Update("content", content)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotAuthor
	}
	payload := events.MessageEditPayload{MessageID: messageID, Content: content}
	s.bc.Broadcast(roomID, events.MessageEdit, payload)
	return &payload, nil
}

func (s *MessageService) Delete(ctx context.Context, userID, roomID, messageID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND room_id = ? AND author_id = ?", messageID, roomID, userID).
		Delete(&models.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotAuthor
	}
	s.bc.Broadcast(roomID, events.MessageDelete, events.MessageDeletePayload{MessageID: messageID})
	return nil
}
