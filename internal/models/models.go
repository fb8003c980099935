package models

import "time"

// User.Modified 是会话失效水位（Unix 毫秒），任何早于它签发的 token 都会被拒绝。
type User struct {
	ID           string `gorm:"primaryKey;size:32"`
	Username     string `gorm:"uniqueIndex;size:32;not null"`
	Nickname     string `gorm:"size:32;not null"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"not null"`
	Avatar       string `gorm:"size:255"`
	Banner       string `gorm:"size:255"`
	About        string `gorm:"size:512"`
	Modified     int64  `gorm:"not null"`
	CreatedAt    time.Time
}

func (u *User) Snapshot() UserSnapshot {
	return UserSnapshot{UserID: u.ID, Username: u.Username, Nickname: u.Nickname, Avatar: u.Avatar}
}

// UserSnapshot 是房间成员/在线状态对外暴露的用户摘要。
type UserSnapshot struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type Channel struct {
	ID        string `gorm:"primaryKey;size:32"`
	Name      string `gorm:"size:32;not null"`
	OwnerID   string `gorm:"index;size:32;not null"`
	Members   []User `gorm:"many2many:channel_members;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
}

// DMThread 恰好有两个参与者。
type DMThread struct {
	ID        string `gorm:"primaryKey;size:32"`
	User1ID   string `gorm:"uniqueIndex:idx_dm_pair,priority:1;size:32;not null"`
	User2ID   string `gorm:"uniqueIndex:idx_dm_pair,priority:2;index;size:32;not null"`
	User1     User   `gorm:"foreignKey:User1ID"`
	User2     User   `gorm:"foreignKey:User2ID"`
	CreatedAt time.Time
}

func (DMThread) TableName() string { return "dm_threads" }

// Message 的 RoomID 可以是频道也可以是私信会话，两者共享 id 空间。
type Message struct {
	ID        string `gorm:"primaryKey;size:32"`
	RoomID    string `gorm:"index:idx_msg_room_ts;size:32;not null"`
	AuthorID  string `gorm:"index;size:32;not null"`
	Author    User   `gorm:"foreignKey:AuthorID"`
	Content   string `gorm:"type:text;not null"`
	Timestamp int64  `gorm:"index:idx_msg_room_ts;not null"`
}

type Invite struct {
	Code      string  `gorm:"primaryKey;size:16"`
	ChannelID string  `gorm:"index;size:32;not null"`
	Channel   Channel `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE"`
	CreatorID string  `gorm:"size:32;not null"`
	CreatedAt time.Time
}
