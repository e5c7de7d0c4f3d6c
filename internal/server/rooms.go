package server

import (
	"sort"

	"github.com/Tyrowin/voicerelay/internal/protocol"
)

// VoiceRoom is a named group of clients scoping join and leave events. A room
// exists only while it has participants.
type VoiceRoom struct {
	ID           string
	participants map[protocol.ClientID]struct{}
}

func newVoiceRoom(id string) *VoiceRoom {
	return &VoiceRoom{
		ID:           id,
		participants: make(map[protocol.ClientID]struct{}),
	}
}

func (r *VoiceRoom) members() []protocol.ClientID {
	ids := make([]protocol.ClientID, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// join puts client into roomID and tells the room's other members. A client
// already in another room leaves it first. Joining the current room again
// keeps membership unchanged and repeats the announcement. Callers hold h.mu.
func (h *Hub) join(client *Client, roomID string) {
	if client.currentRoom != "" && client.currentRoom != roomID {
		h.leave(client, client.currentRoom)
	}

	room, ok := h.rooms[roomID]
	if !ok {
		room = newVoiceRoom(roomID)
		h.rooms[roomID] = room
		h.metrics.RoomCreated()
	}

	room.participants[client.id] = struct{}{}
	client.currentRoom = roomID

	client.logger().Infof("joined voice room %q (%d participants)", roomID, len(room.participants))
	h.broadcastRoom(room, newOutbound(protocol.NewRoomEvent(protocol.TypeJoinVoice, client.id, roomID)), client)
}

// leave takes client out of roomID and tells the remaining members. It is a
// no-op unless roomID is the client's current room. Callers hold h.mu.
func (h *Hub) leave(client *Client, roomID string) {
	if client.currentRoom == "" || client.currentRoom != roomID {
		client.logger().Debugf("not in voice room %q; ignoring leave", roomID)
		return
	}

	room := h.rooms[roomID]
	delete(room.participants, client.id)
	if len(room.participants) == 0 {
		delete(h.rooms, roomID)
		h.metrics.RoomDeleted()
	}
	client.currentRoom = ""

	client.logger().Infof("left voice room %q", roomID)
	// the leaver is no longer a participant, so it is not a recipient
	h.broadcastRoom(room, newOutbound(protocol.NewRoomEvent(protocol.TypeLeaveVoice, client.id, roomID)), nil)
}

// cleanupOnDisconnect leaves the client's current room, if any. Callers hold h.mu.
func (h *Hub) cleanupOnDisconnect(client *Client) {
	if client.currentRoom == "" {
		return
	}
	h.leave(client, client.currentRoom)
}

// broadcastRoom sends ev to every participant of room except exclude, which
// may be nil. Callers hold h.mu.
func (h *Hub) broadcastRoom(room *VoiceRoom, ev *outbound, exclude *Client) int {
	sent := 0
	for id := range room.participants {
		if exclude != nil && id == exclude.id {
			continue
		}
		client, ok := h.clients[id]
		if !ok {
			continue
		}
		if h.deliverEvent(client, ev) {
			sent++
		}
	}
	return sent
}

// Rooms returns every room and its participants.
func (h *Hub) Rooms() map[string][]protocol.ClientID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomsLocked()
}

// RoomMembers returns the participants of roomID and whether the room exists.
func (h *Hub) RoomMembers(roomID string) ([]protocol.ClientID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return nil, false
	}
	return room.members(), true
}

// CurrentRoom reports the voice room a client is in.
func (h *Hub) CurrentRoom(id protocol.ClientID) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[id]
	if !ok || client.currentRoom == "" {
		return "", false
	}
	return client.currentRoom, true
}

func (h *Hub) roomsLocked() map[string][]protocol.ClientID {
	rooms := make(map[string][]protocol.ClientID, len(h.rooms))
	for id, room := range h.rooms {
		rooms[id] = room.members()
	}
	return rooms
}
