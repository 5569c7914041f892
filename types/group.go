package types

import "time"

// Group is a chat group. Exactly one group is flagged IsDefault, every user joins it on registration and it
// can never be deleted. Creator is empty for the default group until the first user registers.
type Group struct {
	Id         string    `json:"id" gorm:"primaryKey"`
	Name       string    `json:"name" gorm:"uniqueIndex;not null"`
	Avatar     string    `json:"avatar"`
	Creator    string    `json:"creator" gorm:"index"`
	IsDefault  bool      `json:"isDefault" gorm:"index"`
	Members    []string  `json:"members" gorm:"-"`
	CreateTime time.Time `json:"createTime"`
}

// TableName avoids the GROUPS keyword of some SQL dialects.
func (Group) TableName() string {
	return "chat_groups"
}

// HasMember reports whether userId is in the member set.
func (g *Group) HasMember(userId string) bool {
	for _, m := range g.Members {
		if m == userId {
			return true
		}
	}
	return false
}

// IsCreator reports whether userId created the group. Groups without a creator have none.
func (g *Group) IsCreator(userId string) bool {
	return g.Creator != "" && g.Creator == userId
}

// GroupMember is the membership row used by the SQL persister, one per (group, user).
type GroupMember struct {
	GroupId  string    `gorm:"primaryKey"`
	UserId   string    `gorm:"primaryKey;index"`
	JoinTime time.Time
}
