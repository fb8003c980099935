package service

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"groupchat/internal/apperr"
	"groupchat/internal/auth"
	"groupchat/internal/models"

	"github.com/rs/xid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.]{3,32}$`)

const (
	minPassword = 8
	maxPassword = 64
	maxNickname = 32
	maxAbout    = 512
)

// UserCache 是账户写入后需要同步刷新的用户缓存。
type UserCache interface {
	Set(ctx context.Context, u *models.User)
	Delete(ctx context.Context, id string)
}

// UserService 封装账户相关的业务逻辑。
type UserService struct {
	db     *gorm.DB
	tokens *auth.TokenService
	cache  UserCache
	now    func() time.Time
}

func NewUserService(db *gorm.DB, tokens *auth.TokenService, cache UserCache) *UserService {
	return &UserService{db: db, tokens: tokens, cache: cache, now: time.Now}
}

type RegisterInput struct {
	Email    string
	Username string
	Password string
	Nickname string
}

// Profile 是对外可见的账户数据，不含密码哈希与会话水位。
type Profile struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Banner   string `json:"banner"`
	About    string `json:"about"`
}

func ProfileOf(u *models.User) Profile {
	return Profile{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		Nickname: u.Nickname,
		Avatar:   u.Avatar,
		Banner:   u.Banner,
		About:    u.About,
	}
}

// PublicProfile 是其他用户可见的资料，不含邮箱。
type PublicProfile struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	Avatar    string    `json:"avatar"`
	Banner    string    `json:"banner"`
	About     string    `json:"about"`
	CreatedAt time.Time `json:"created_at"`
}

// PublicProfile looks a user up by id, or by username when no id matches.
func (s *UserService) PublicProfile(ctx context.Context, idOrUsername string) (*PublicProfile, error) {
	key := strings.TrimSpace(idOrUsername)
	if key == "" {
		return nil, apperr.NotFound("user")
	}
	var user models.User
	err := s.db.WithContext(ctx).
		Where("id = ? OR username = ?", key, strings.ToLower(key)).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: "CASE WHEN id = ? THEN 0 ELSE 1 END", Vars: []any{key}}}).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user")
		}
		return nil, err
	}
	return &PublicProfile{
		UserID:    user.ID,
		Username:  user.Username,
		Nickname:  user.Nickname,
		Avatar:    user.Avatar,
		Banner:    user.Banner,
		About:     user.About,
		CreatedAt: user.CreatedAt,
	}, nil
}

func normalizeUsername(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func validateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return apperr.Invalid("username must be 3-32 characters of a-z, 0-9, _ or .")
	}
	return nil
}

func validatePassword(s string) error {
	if len(s) < minPassword || len(s) > maxPassword {
		return apperr.Invalid("password must be 8-64 characters")
	}
	return nil
}

func validateNickname(s string) error {
	if s == "" || len([]rune(s)) > maxNickname {
		return apperr.Invalid("nickname must be 1-32 characters")
	}
	return nil
}

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", apperr.Invalid("invalid email")
	}
	return s, nil
}

// Register creates an account. The session watermark starts at the creation
// time, so only tokens signed after the grace window are accepted.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	username := normalizeUsername(in.Username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	nickname := strings.TrimSpace(in.Nickname)
	if nickname == "" {
		nickname = username
	}
	if err := validateNickname(nickname); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if taken, err := exists(db.Model(&models.User{}).Where("email = ?", email)); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrEmailTaken
	}
	if taken, err := exists(db.Model(&models.User{}).Where("username = ?", username)); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrUsernameTaken
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := models.User{
		ID:           xid.New().String(),
		Email:        email,
		Username:     username,
		Nickname:     nickname,
		PasswordHash: hash,
		Modified:     now.UnixMilli(),
		CreatedAt:    now,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

type LoginResult struct {
	User  models.User
	Token string
}

// Login 校验邮箱和密码并签发会话 token。
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Token: token}, nil
}

// ProfilePatch 中为 nil 的字段保持不变。
type ProfilePatch struct {
	Email    *string
	Username *string
	Nickname *string
	Password *string
	Avatar   *string
	Banner   *string
	About    *string
}

// UpdateProfile applies patch. Changing the email, password, username,
// nickname, avatar or banner bumps the session watermark, which invalidates every token
// issued before now; changing about alone does not.
func (s *UserService) UpdateProfile(ctx context.Context, u *models.User, patch ProfilePatch) (*Profile, error) {
	updates := map[string]any{}
	bump := needsBump(patch, u)

	if patch.Email != nil {
		email, err := normalizeEmail(*patch.Email)
		if err != nil {
			return nil, err
		}
		if email != u.Email {
			taken, err := exists(s.db.WithContext(ctx).Model(&models.User{}).Where("email = ? AND id <> ?", email, u.ID))
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, ErrEmailTaken
			}
			updates["email"] = email
		}
	}
	if patch.Username != nil {
		username := normalizeUsername(*patch.Username)
		if err := validateUsername(username); err != nil {
			return nil, err
		}
		if username != u.Username {
			taken, err := exists(s.db.WithContext(ctx).Model(&models.User{}).Where("username = ? AND id <> ?", username, u.ID))
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, ErrUsernameTaken
			}
			updates["username"] = username
		}
	}
	if patch.Nickname != nil {
		nickname := strings.TrimSpace(*patch.Nickname)
		if err := validateNickname(nickname); err != nil {
			return nil, err
		}
		updates["nickname"] = nickname
	}
	if patch.Password != nil {
		if err := validatePassword(*patch.Password); err != nil {
			return nil, err
		}
		hash, err := auth.HashPassword(*patch.Password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}
	if patch.Avatar != nil {
		updates["avatar"] = strings.TrimSpace(*patch.Avatar)
	}
	if patch.Banner != nil {
		updates["banner"] = strings.TrimSpace(*patch.Banner)
	}
	if patch.About != nil {
		about := strings.TrimSpace(*patch.About)
		if len([]rune(about)) > maxAbout {
			return nil, apperr.Invalid("about must be at most 512 characters")
		}
		updates["about"] = about
	}
	if bump {
		updates["modified"] = s.now().UnixMilli()
	}
	if len(updates) == 0 {
		p := ProfileOf(u)
		return &p, nil
	}
	return s.apply(ctx, u.ID, updates)
}

// needsBump 判断 patch 是否会使 current 之前签发的令牌失效。
// 邮箱和用户名只有在规范化后确实变化时才算。
func needsBump(patch ProfilePatch, current *models.User) bool {
	if patch.Email != nil {
		if email, err := normalizeEmail(*patch.Email); err != nil || email != current.Email {
			return true
		}
	}
	if patch.Username != nil && normalizeUsername(*patch.Username) != current.Username {
		return true
	}
	return patch.Nickname != nil || patch.Password != nil || patch.Avatar != nil || patch.Banner != nil
}

// RevokeSessions 把会话水位推进到当前时间，使该用户所有已签发的 token 失效。
func (s *UserService) RevokeSessions(ctx context.Context, u *models.User) error {
	_, err := s.apply(ctx, u.ID, map[string]any{"modified": s.now().UnixMilli()})
	return err
}

func (s *UserService) apply(ctx context.Context, userID string, updates map[string]any) (*Profile, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("user")
	}
	var fresh models.User
	if err := db.Where("id = ?", userID).First(&fresh).Error; err != nil {
		// 更新已提交但无法回读，丢弃缓存以免继续使用旧的会话水位。
		if s.cache != nil {
			s.cache.Delete(ctx, userID)
		}
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, &fresh)
	}
	p := ProfileOf(&fresh)
	return &p, nil
}

func exists(q *gorm.DB) (bool, error) {
	var count int64
	if err := q.Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
