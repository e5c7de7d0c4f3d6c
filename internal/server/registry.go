package server

import (
	"sort"

	"github.com/Tyrowin/voicerelay/internal/protocol"
)

// registerClient assigns the next client id, adds the client to the roster
// and broadcasts the new roster to everyone, the new client included.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	client.id = h.lastID
	h.clients[client.id] = client
	h.metrics.ClientRegistered()

	client.logger().Infof("client registered. Total clients: %d", len(h.clients))
	h.broadcastRoster()
}

// unregisterClient removes a client after its read loop ended. A client that
// is no longer registered is ignored.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.clients[client.id]
	if !ok || current != client {
		return
	}

	h.cleanupOnDisconnect(client)

	delete(h.clients, client.id)
	close(client.send)
	h.metrics.ClientDeregistered()

	client.logger().Infof("client unregistered. Total clients: %d", len(h.clients))
	h.broadcastRoster()
}

// broadcastRoster sends the current userList to every client. Callers hold h.mu.
func (h *Hub) broadcastRoster() {
	h.broadcastAll(newOutbound(protocol.NewUserList(h.rosterLocked())), nil)
}

// Roster returns the ids of all registered clients in ascending order.
func (h *Hub) Roster() []protocol.ClientID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rosterLocked()
}

func (h *Hub) rosterLocked() []protocol.ClientID {
	ids := make([]protocol.ClientID, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
