package types

import "time"

// User is the identity record. Administrator status is not stored here, it is derived from the configured
// administrators list on every login.
type User struct {
	Id            string    `json:"id" gorm:"primaryKey"`
	Username      string    `json:"username" gorm:"uniqueIndex;not null"`
	Password      string    `json:"password" gorm:"not null"` // bcrypt hash
	Salt          string    `json:"salt"`
	Avatar        string    `json:"avatar"`
	Tag           string    `json:"tag"`
	CreateTime    time.Time `json:"createTime"`
	LastLoginTime time.Time `json:"lastLoginTime"`
	LastLoginIp   string    `json:"lastLoginIp"`
}

// Friend is a directed edge, From -> To. The reverse edge is an independent record.
type Friend struct {
	From       string    `json:"from" gorm:"primaryKey;column:from_user"`
	To         string    `json:"to" gorm:"primaryKey;column:to_user"`
	CreateTime time.Time `json:"createTime"`
}

// Notification binds a push notification delivery token to a user.
type Notification struct {
	Token      string    `json:"token" gorm:"primaryKey"`
	UserId     string    `json:"userId" gorm:"index;not null"`
	CreateTime time.Time `json:"createTime"`
}
