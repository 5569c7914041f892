package types

// Events pushed by the server to every connection of a room (or of a user).
const (
	EventChangeGroupName = "changeGroupName"
	EventDeleteGroup     = "deleteGroup"
	EventChangeTag       = "changeTag"
)

type ChangeGroupNameEvent struct {
	GroupId string `json:"groupId"`
	Name    string `json:"name"`
}

type DeleteGroupEvent struct {
	GroupId string `json:"groupId"`
}
