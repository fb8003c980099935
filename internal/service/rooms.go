package service

import (
	"context"
	"errors"

	"groupchat/internal/apperr"
	"groupchat/internal/models"

	"gorm.io/gorm"
)

// Broadcaster 把事件投递给房间内的所有实时连接，由 ws.Gateway 或 bus.Relay 实现。
type Broadcaster interface {
	Broadcast(roomID, event string, payload any)
}

// Subscriptions 在成员关系变化后同步实时连接的房间订阅。
type Subscriptions interface {
	Evict(userID, roomID string)
	CloseRoom(roomID string)
}

// OnlineMembers 返回房间内当前在线的成员。
type OnlineMembers interface {
	OnlineMembers(ctx context.Context, roomID string, isDM bool) ([]models.UserSnapshot, error)
}

func loadChannel(db *gorm.DB, id string) (*models.Channel, error) {
	var ch models.Channel
	if err := db.Where("id = ?", id).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("channel")
		}
		return nil, err
	}
	return &ch, nil
}

func loadDM(db *gorm.DB, id string) (*models.DMThread, error) {
	var dm models.DMThread
	if err := db.Preload("User1").Preload("User2").Where("id = ?", id).First(&dm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("dm")
		}
		return nil, err
	}
	return &dm, nil
}

func isChannelMember(db *gorm.DB, channelID, userID string) (bool, error) {
	return exists(db.Table("channel_members").Where("channel_id = ? AND user_id = ?", channelID, userID))
}

func isParticipant(dm *models.DMThread, userID string) bool {
	return dm.User1ID == userID || dm.User2ID == userID
}

// checkAccess 确认房间存在且 userID 是其成员（私信为参与者）。
func checkAccess(ctx context.Context, db *gorm.DB, userID, roomID string, isDM bool) error {
	db = db.WithContext(ctx)
	if isDM {
		dm, err := loadDM(db, roomID)
		if err != nil {
			return err
		}
		if !isParticipant(dm, userID) {
			return ErrNotMember
		}
		return nil
	}
	if _, err := loadChannel(db, roomID); err != nil {
		return err
	}
	ok, err := isChannelMember(db, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func roomMessages(db *gorm.DB, roomID string) ([]MessageView, error) {
	var msgs []models.Message
	if err := db.Preload("Author").Where("room_id = ?", roomID).Order("timestamp asc, id asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	out := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, viewOf(&msgs[i], &msgs[i].Author))
	}
	return out, nil
}
