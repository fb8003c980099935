package service

import (
	"context"
	"errors"

	"groupchat/internal/apperr"
	"groupchat/internal/models"

	"github.com/rs/xid"
	"gorm.io/gorm"
)

// DMService 封装私信会话：每对用户至多一个会话。
type DMService struct {
	db     *gorm.DB
	online OnlineMembers
}

func NewDMService(db *gorm.DB, online OnlineMembers) *DMService {
	return &DMService{db: db, online: online}
}

type DMSummary struct {
	ID        string              `json:"id"`
	Recipient models.UserSnapshot `json:"recipient"`
}

type DMDetail struct {
	DMSummary
	Members       []models.UserSnapshot `json:"members"`
	Messages      []MessageView         `json:"messages"`
	OnlineMembers []models.UserSnapshot `json:"onlineMembers"`
}

func dmSummaryOf(dm *models.DMThread, viewer string) DMSummary {
	other := dm.User2
	if dm.User2ID == viewer {
		other = dm.User1
	}
	return DMSummary{ID: dm.ID, Recipient: other.Snapshot()}
}

func (s *DMService) List(ctx context.Context, userID string) ([]DMSummary, error) {
	return listDMs(s.db.WithContext(ctx), userID)
}

func listDMs(db *gorm.DB, userID string) ([]DMSummary, error) {
	var dms []models.DMThread
	err := db.Preload("User1").Preload("User2").
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("created_at asc").
		Find(&dms).Error
	if err != nil {
		return nil, err
	}
	out := make([]DMSummary, 0, len(dms))
	for i := range dms {
		out = append(out, dmSummaryOf(&dms[i], userID))
	}
	return out, nil
}

// Open returns the DM between user and the account named username, creating
// it on first use.
func (s *DMService) Open(ctx context.Context, user *models.User, username string) (*DMSummary, error) {
	username = normalizeUsername(username)
	if username == user.Username {
		return nil, ErrSelfDM
	}
	db := s.db.WithContext(ctx)
	var other models.User
	if err := db.Where("username = ?", username).First(&other).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user")
		}
		return nil, err
	}
	if other.ID == user.ID {
		return nil, ErrSelfDM
	}

	u1, u2 := dmPair(user.ID, other.ID)
	dm, err := findDM(db, u1, u2)
	if err == nil {
		out := dmSummaryOf(dm, user.ID)
		return &out, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := models.DMThread{ID: xid.New().String(), User1ID: u1, User2ID: u2}
	if err := db.Omit("User1", "User2").Create(&created).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		// 并发创建时唯一索引冲突，读取胜出的那一个。
		if dm, err = findDM(db, u1, u2); err != nil {
			return nil, err
		}
		out := dmSummaryOf(dm, user.ID)
		return &out, nil
	}
	if created.User1ID == user.ID {
		created.User1, created.User2 = *user, other
	} else {
		created.User1, created.User2 = other, *user
	}
	out := dmSummaryOf(&created, user.ID)
	return &out, nil
}

// dmPair 返回排序后的参与者，保证同一对用户只对应一行。
func dmPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func findDM(db *gorm.DB, user1, user2 string) (*models.DMThread, error) {
	var dm models.DMThread
	err := db.Preload("User1").Preload("User2").
		Where("user1_id = ? AND user2_id = ?", user1, user2).
		First(&dm).Error
	if err != nil {
		return nil, err
	}
	return &dm, nil
}

func (s *DMService) Get(ctx context.Context, userID, dmID string) (*DMDetail, error) {
	db := s.db.WithContext(ctx)
	dm, err := loadDM(db, dmID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(dm, userID) {
		return nil, ErrNotMember
	}
	msgs, err := roomMessages(db, dmID)
	if err != nil {
		return nil, err
	}
	online, err := s.online.OnlineMembers(ctx, dmID, true)
	if err != nil {
		return nil, err
	}
	return &DMDetail{
		DMSummary:     dmSummaryOf(dm, userID),
		Members:       []models.UserSnapshot{dm.User1.Snapshot(), dm.User2.Snapshot()},
		Messages:      msgs,
		OnlineMembers: online,
	}, nil
}
