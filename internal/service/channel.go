package service

import (
	"context"
	"strings"

	"groupchat/internal/apperr"
	"groupchat/internal/models"

	"github.com/rs/xid"
	"gorm.io/gorm"
)

// MemberStore 返回房间的完整成员列表。
type MemberStore interface {
	RoomMembers(ctx context.Context, roomID string, isDM bool) ([]models.UserSnapshot, error)
}

// ChannelService 封装频道相关的业务逻辑。
type ChannelService struct {
	db      *gorm.DB
	members MemberStore
	online  OnlineMembers
	subs    Subscriptions
}

func NewChannelService(db *gorm.DB, members MemberStore, online OnlineMembers, subs Subscriptions) *ChannelService {
	return &ChannelService{db: db, members: members, online: online, subs: subs}
}

type ChannelSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

type ChannelDetail struct {
	ChannelSummary
	Members       []models.UserSnapshot `json:"members"`
	Messages      []MessageView         `json:"messages"`
	OnlineMembers []models.UserSnapshot `json:"onlineMembers"`
}

func summaryOf(ch *models.Channel) ChannelSummary {
	return ChannelSummary{ID: ch.ID, Name: ch.Name, OwnerID: ch.OwnerID}
}

func normalizeChannelName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if n := len([]rune(s)); n < 3 || n > 32 {
		return "", apperr.Invalid("channel name must be 3-32 characters")
	}
	return s, nil
}

// List 返回用户加入的全部频道。
func (s *ChannelService) List(ctx context.Context, userID string) ([]ChannelSummary, error) {
	return listChannels(s.db.WithContext(ctx), userID)
}

type ChannelsAndDMs struct {
	Channels []ChannelSummary `json:"channels"`
	DMs      []DMSummary      `json:"dms"`
}

// ListAll 一次返回用户的频道与私信，供客户端初始化侧边栏。
func (s *ChannelService) ListAll(ctx context.Context, userID string) (*ChannelsAndDMs, error) {
	db := s.db.WithContext(ctx)
	chans, err := listChannels(db, userID)
	if err != nil {
		return nil, err
	}
	dms, err := listDMs(db, userID)
	if err != nil {
		return nil, err
	}
	return &ChannelsAndDMs{Channels: chans, DMs: dms}, nil
}

func listChannels(db *gorm.DB, userID string) ([]ChannelSummary, error) {
	var chans []models.Channel
	err := db.
		Joins("JOIN channel_members ON channel_members.channel_id = channels.id").
		Where("channel_members.user_id = ?", userID).
		Order("channels.created_at asc").
		Find(&chans).Error
	if err != nil {
		return nil, err
	}
	out := make([]ChannelSummary, 0, len(chans))
	for i := range chans {
		out = append(out, summaryOf(&chans[i]))
	}
	return out, nil
}

// Create 创建频道，创建者成为 owner 并自动加入。
func (s *ChannelService) Create(ctx context.Context, owner *models.User, name string) (*ChannelSummary, error) {
	name, err := normalizeChannelName(name)
	if err != nil {
		return nil, err
	}
	ch := models.Channel{ID: xid.New().String(), Name: name, OwnerID: owner.ID}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(&ch).Error; err != nil {
			return err
		}
		return addMember(tx, ch.ID, owner.ID)
	})
	if err != nil {
		return nil, err
	}
	out := summaryOf(&ch)
	return &out, nil
}

// Get returns the channel with its members, message history and the members
// that currently hold a live connection. Only members may read it.
func (s *ChannelService) Get(ctx context.Context, userID, channelID string) (*ChannelDetail, error) {
	db := s.db.WithContext(ctx)
	ch, err := loadChannel(db, channelID)
	if err != nil {
		return nil, err
	}
	ok, err := isChannelMember(db, channelID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}
	members, err := s.members.RoomMembers(ctx, channelID, false)
	if err != nil {
		return nil, err
	}
	msgs, err := roomMessages(db, channelID)
	if err != nil {
		return nil, err
	}
	online, err := s.online.OnlineMembers(ctx, channelID, false)
	if err != nil {
		return nil, err
	}
	return &ChannelDetail{ChannelSummary: summaryOf(ch), Members: members, Messages: msgs, OnlineMembers: online}, nil
}

func (s *ChannelService) Rename(ctx context.Context, userID, channelID, name string) (*ChannelSummary, error) {
	name, err := normalizeChannelName(name)
	if err != nil {
		return nil, err
	}
	ch, err := s.owned(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(ch).Update("name", name).Error; err != nil {
		return nil, err
	}
	ch.Name = name
	out := summaryOf(ch)
	return &out, nil
}

// Delete 删除频道及其消息、邀请和成员关系，仅 owner 可操作。
func (s *ChannelService) Delete(ctx context.Context, userID, channelID string) error {
	ch, err := s.owned(ctx, userID, channelID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", ch.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", ch.ID).Delete(&models.Invite{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM channel_members WHERE channel_id = ?", ch.ID).Error; err != nil {
			return err
		}
		return tx.Delete(ch).Error
	})
	if err != nil {
		return err
	}
	s.subs.CloseRoom(ch.ID)
	return nil
}

func (s *ChannelService) Leave(ctx context.Context, userID, channelID string) error {
	db := s.db.WithContext(ctx)
	ch, err := loadChannel(db, channelID)
	if err != nil {
		return err
	}
	if ch.OwnerID == userID {
		return ErrOwnerCannotLeave
	}
	res := db.Exec("DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?", channelID, userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotMember
	}
	s.subs.Evict(userID, channelID)
	return nil
}

func (s *ChannelService) owned(ctx context.Context, userID, channelID string) (*models.Channel, error) {
	ch, err := loadChannel(s.db.WithContext(ctx), channelID)
	if err != nil {
		return nil, err
	}
	if ch.OwnerID != userID {
		return nil, ErrNotOwner
	}
	return ch, nil
}

func addMember(db *gorm.DB, channelID, userID string) error {
	return db.Exec("INSERT INTO channel_members (channel_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING", channelID, userID).Error
}
