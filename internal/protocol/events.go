package protocol

// ChatEvent is delivered to every client except the author of a chat line.
type ChatEvent struct {
	Type    Type     `json:"type" msgpack:"type"`
	UserID  ClientID `json:"userId" msgpack:"userId"`
	Message string   `json:"message" msgpack:"message"`
}

// RoomEvent announces a join, leave or invite on behalf of UserID.
type RoomEvent struct {
	Type   Type     `json:"type" msgpack:"type"`
	UserID ClientID `json:"userId" msgpack:"userId"`
	RoomID string   `json:"roomId" msgpack:"roomId"`
}

// UserList is the roster broadcast sent on every connect and disconnect.
type UserList struct {
	Type  Type       `json:"type" msgpack:"type"`
	Users []ClientID `json:"users" msgpack:"users"`
}

func NewChatEvent(from ClientID, message string) ChatEvent {
	return ChatEvent{Type: TypeChat, UserID: from, Message: message}
}

func NewRoomEvent(t Type, from ClientID, roomID string) RoomEvent {
	return RoomEvent{Type: t, UserID: from, RoomID: roomID}
}

func NewUserList(users []ClientID) UserList {
	if users == nil {
		users = []ClientID{}
	}
	return UserList{Type: TypeUserList, Users: users}
}
