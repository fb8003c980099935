// Package store is the persistence collaborator consumed by the auth core,
// the membership resolver and the online-members query.
package store

import (
	"context"
	"errors"
	"strings"

	"groupchat/internal/apperr"
	"groupchat/internal/models"

	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindUser(ctx context.Context, id string) (*models.User, error) {
	return s.findUserWhere(ctx, "id = ?", id)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUserWhere(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUserWhere(ctx, "username = ?", strings.ToLower(strings.TrimSpace(username)))
}

func (s *Store) findUserWhere(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ChannelMemberships 返回用户加入的频道 id。
func (s *Store) ChannelMemberships(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Table("channel_members").
		Where("user_id = ?", userID).
		Order("channel_id").
		Pluck("channel_id", &ids).Error
	return ids, err
}

// DMMemberships 返回用户作为任一参与者的私信会话 id。
func (s *Store) DMMemberships(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.DMThread{}).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// RoomMembers 返回房间的完整成员列表：私信为两位参与者，频道为成员表。
func (s *Store) RoomMembers(ctx context.Context, roomID string, isDM bool) ([]models.UserSnapshot, error) {
	db := s.db.WithContext(ctx)
	out := make([]models.UserSnapshot, 0, 2)
	if isDM {
		var dm models.DMThread
		if err := db.Where("id = ?", roomID).First(&dm).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("dm")
			}
			return nil, err
		}
		err := db.Model(&models.User{}).
			Select("id AS user_id", "username", "nickname", "avatar").
			Where("id IN ?", []string{dm.User1ID, dm.User2ID}).
			Order("id").
			Scan(&out).Error
		return out, err
	}

	var count int64
	if err := db.Model(&models.Channel{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, apperr.NotFound("channel")
	}
	err := db.Model(&models.User{}).
		Select("users.id AS user_id", "users.username", "users.nickname", "users.avatar").
		Joins("JOIN channel_members ON channel_members.user_id = users.id").
		Where("channel_members.channel_id = ?", roomID).
		Order("users.id").
		Scan(&out).Error
	return out, err
}
