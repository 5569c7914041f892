package types

import "time"

// Message is a chat message addressed to a group. Only reading recent history is part of this service.
type Message struct {
	Id         string    `json:"id" gorm:"primaryKey"`
	From       string    `json:"from" gorm:"column:from_user"`
	To         string    `json:"to" gorm:"column:to_group;index"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Deleted    bool      `json:"deleted"`
	CreateTime time.Time `json:"createTime" gorm:"index"`
}

// MessageView is a message with its sender resolved to display fields.
type MessageView struct {
	Id         string    `json:"id"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	From       *UserView `json:"from"`
	CreateTime time.Time `json:"createTime"`
	Deleted    bool      `json:"deleted,omitempty"`
}
