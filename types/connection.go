package types

import (
	"time"

	"gorm.io/datatypes"
)

// Connection is the durable mirror of a live transport connection. It is written on connect, updated on
// authentication and room changes, and removed on disconnect. Presence and "is user online" queries scan these.
type Connection struct {
	Id          string                      `json:"id" gorm:"primaryKey"`
	UserId      string                      `json:"userId" gorm:"index"` // empty until authenticated
	Ip          string                      `json:"ip"`
	Os          string                      `json:"os"`
	Browser     string                      `json:"browser"`
	Environment string                      `json:"environment"`
	Rooms       datatypes.JSONSlice[string] `json:"rooms"`
	CreateTime  time.Time                   `json:"createTime"`
}
