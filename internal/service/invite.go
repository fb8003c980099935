package service

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"time"

	"groupchat/internal/apperr"
	"groupchat/internal/models"

	"gorm.io/gorm"
)

const (
	inviteCodeLen      = 8
	inviteAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"
	inviteCodeAttempts = 5
)

type InviteService struct {
	db *gorm.DB
}

func NewInviteService(db *gorm.DB) *InviteService {
	return &InviteService{db: db}
}

type InviteView struct {
	Code        string    `json:"code"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	CreatorID   string    `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func inviteViewOf(inv *models.Invite, ch *models.Channel) InviteView {
	return InviteView{Code: inv.Code, ChannelID: inv.ChannelID, ChannelName: ch.Name, CreatorID: inv.CreatorID, CreatedAt: inv.CreatedAt}
}

func newInviteCode() (string, error) {
	return inviteCode(rand.Reader)
}

// inviteCode 丢弃落在最后一段不完整区间的字节，使每个字符等概率。
func inviteCode(r io.Reader) (string, error) {
	limit := 256 - 256%len(inviteAlphabet)
	out := make([]byte, 0, inviteCodeLen)
	buf := make([]byte, inviteCodeLen)
	for len(out) < inviteCodeLen {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, inviteAlphabet[int(b)%len(inviteAlphabet)])
			if len(out) == inviteCodeLen {
				break
			}
		}
	}
	return string(out), nil
}

// Create 为频道生成一个邀请码，仅 owner 可操作。
func (s *InviteService) Create(ctx context.Context, userID, channelID string) (*InviteView, error) {
	db := s.db.WithContext(ctx)
	ch, err := loadChannel(db, channelID)
	if err != nil {
		return nil, err
	}
	if ch.OwnerID != userID {
		return nil, ErrNotOwner
	}
	for i := 0; i < inviteCodeAttempts; i++ {
		code, err := newInviteCode()
		if err != nil {
			return nil, err
		}
		taken, err := exists(db.Model(&models.Invite{}).Where("code = ?", code))
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}
		inv := models.Invite{Code: code, ChannelID: ch.ID, CreatorID: userID, CreatedAt: time.Now()}
		if err := db.Omit("Channel").Create(&inv).Error; err != nil {
			return nil, err
		}
		out := inviteViewOf(&inv, ch)
		return &out, nil
	}
	return nil, errors.New("invite: could not allocate a unique code")
}

func (s *InviteService) List(ctx context.Context, userID, channelID string) ([]InviteView, error) {
	db := s.db.WithContext(ctx)
	ch, err := loadChannel(db, channelID)
	if err != nil {
		return nil, err
	}
	if ch.OwnerID != userID {
		return nil, ErrNotOwner
	}
	var invs []models.Invite
	if err := db.Where("channel_id = ?", channelID).Order("created_at asc").Find(&invs).Error; err != nil {
		return nil, err
	}
	out := make([]InviteView, 0, len(invs))
	for i := range invs {
		out = append(out, inviteViewOf(&invs[i], ch))
	}
	return out, nil
}

// Lookup 不需要登录，只暴露邀请码对应的频道名。
func (s *InviteService) Lookup(ctx context.Context, code string) (*InviteView, error) {
	inv, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}
	out := inviteViewOf(inv, &inv.Channel)
	return &out, nil
}

// Accept adds the user to the invite's channel. Members already in the
// channel get ErrAlreadyMember.
func (s *InviteService) Accept(ctx context.Context, user *models.User, code string) (*ChannelSummary, error) {
	inv, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	ok, err := isChannelMember(db, inv.ChannelID, user.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, ErrAlreadyMember
	}
	if err := addMember(db, inv.ChannelID, user.ID); err != nil {
		return nil, err
	}
	out := summaryOf(&inv.Channel)
	return &out, nil
}

func (s *InviteService) Delete(ctx context.Context, userID, code string) error {
	inv, err := s.find(ctx, code)
	if err != nil {
		return err
	}
	if inv.Channel.OwnerID != userID {
		return ErrNotOwner
	}
	return s.db.WithContext(ctx).Where("code = ?", inv.Code).Delete(&models.Invite{}).Error
}

func (s *InviteService) find(ctx context.Context, code string) (*models.Invite, error) {
	code = strings.TrimSpace(code)
	if len(code) != inviteCodeLen {
		return nil, apperr.NotFound("invite")
	}
	var inv models.Invite
	if err := s.db.WithContext(ctx).Preload("Channel").Where("code = ?", code).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("invite")
		}
		return nil, err
	}
	return &inv, nil
}
