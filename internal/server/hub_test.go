package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/voicerelay/internal/config"
	"github.com/Tyrowin/voicerelay/internal/protocol"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(config.Default(), nil)
}

// addClient registers a connectionless client so hub state can be driven
// directly.
func addClient(t *testing.T, h *Hub, codec protocol.Codec) *Client {
	t.Helper()
	client := NewClient(nil, h, "127.0.0.1:0", codec)
	h.registerClient(client)
	require.NotZero(t, client.ID())
	return client
}

func sendFrom(t *testing.T, h *Hub, c *Client, v any) {
	t.Helper()
	data, err := c.codec.Marshal(v)
	require.NoError(t, err)
	h.route(c, data)
}

// drain returns every frame queued for c, decoded with c's codec.
func drain(t *testing.T, c *Client) []map[string]any {
	t.Helper()

	var out []map[string]any
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var msg map[string]any
			require.NoError(t, c.codec.Unmarshal(data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func drainAll(t *testing.T, clients ...*Client) {
	t.Helper()
	for _, c := range clients {
		drain(t, c)
	}
}

func asUint(t *testing.T, v any) uint64 {
	t.Helper()
	switch n := v.(type) {
	case float64:
		return uint64(n)
	case int8:
		return uint64(n)
	case int16:
		return uint64(n)
	case int32:
		return uint64(n)
	case int64:
		return uint64(n)
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	default:
		t.Fatalf("unexpected number type %T", v)
		return 0
	}
}

func rosterOf(t *testing.T, msg map[string]any) []protocol.ClientID {
	t.Helper()
	require.Equal(t, string(protocol.TypeUserList), msg["type"])
	users, ok := msg["users"].([]any)
	require.True(t, ok, "users is %T", msg["users"])
	ids := make([]protocol.ClientID, 0, len(users))
	for _, u := range users {
		ids = append(ids, protocol.ClientID(asUint(t, u)))
	}
	return ids
}

// checkInvariants verifies room membership against every client's current
// room and that no empty room is kept.
func checkInvariants(t *testing.T, h *Hub) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, room := range h.rooms {
		assert.NotEmpty(t, room.participants, "room %q is empty", id)
		for member := range room.participants {
			client, ok := h.clients[member]
			if assert.True(t, ok, "room %q lists unknown client %d", id, member) {
				assert.Equal(t, id, client.currentRoom)
			}
		}
	}
	for id, client := range h.clients {
		if client.currentRoom == "" {
			continue
		}
		room, ok := h.rooms[client.currentRoom]
		if assert.True(t, ok, "client %d points at missing room %q", id, client.currentRoom) {
			assert.Contains(t, room.participants, id)
		}
	}
}

func TestRegister_AssignsIncreasingIDsAndBroadcastsRoster(t *testing.T) {
	h := newTestHub(t)

	a := addClient(t, h, nil)
	assert.Equal(t, protocol.ClientID(1), a.ID())
	msgs := drain(t, a)
	require.Len(t, msgs, 1)
	assert.Equal(t, []protocol.ClientID{1}, rosterOf(t, msgs[0]))

	b := addClient(t, h, nil)
	assert.Equal(t, protocol.ClientID(2), b.ID())
	for _, c := range []*Client{a, b} {
		msgs := drain(t, c)
		require.Len(t, msgs, 1)
		assert.Equal(t, []protocol.ClientID{1, 2}, rosterOf(t, msgs[0]))
	}

	h.unregisterClient(a)
	c := addClient(t, h, nil)
	assert.Equal(t, protocol.ClientID(3), c.ID(), "ids are never reused")
	assert.Equal(t, []protocol.ClientID{2, 3}, h.Roster())
}

func TestUnregister_IsIdempotent(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	drainAll(t, a, b)

	h.unregisterClient(a)
	h.unregisterClient(a)

	msgs := drain(t, b)
	require.Len(t, msgs, 1, "only one roster follows one disconnect")
	assert.Equal(t, []protocol.ClientID{2}, rosterOf(t, msgs[0]))

	_, open := <-a.send
	assert.False(t, open, "send queue is closed after unregister")
}

func TestChat_ReachesEveryoneButSender(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	c := addClient(t, h, nil)
	drainAll(t, a, b, c)

	sendFrom(t, h, a, map[string]any{"type": "chat", "message": "hi"})

	assert.Empty(t, drain(t, a))
	for _, r := range []*Client{b, c} {
		msgs := drain(t, r)
		require.Len(t, msgs, 1)
		assert.Equal(t, "chat", msgs[0]["type"])
		assert.Equal(t, "hi", msgs[0]["message"])
		assert.Equal(t, uint64(a.ID()), asUint(t, msgs[0]["userId"]))
	}
}

func TestJoinAndLeave(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	drainAll(t, a, b)

	t.Run("first joiner creates room without broadcast", func(t *testing.T) {
		sendFrom(t, h, a, map[string]any{"type": "join-voice", "roomId": "r1"})

		members, ok := h.RoomMembers("r1")
		require.True(t, ok)
		assert.Equal(t, []protocol.ClientID{a.ID()}, members)
		assert.Empty(t, drain(t, a))
		assert.Empty(t, drain(t, b), "join events are room scoped")
		checkInvariants(t, h)
	})

	t.Run("second joiner is announced to the room only", func(t *testing.T) {
		sendFrom(t, h, b, map[string]any{"type": "join-voice", "roomId": "r1"})

		msgs := drain(t, a)
		require.Len(t, msgs, 1)
		assert.Equal(t, "join-voice", msgs[0]["type"])
		assert.Equal(t, "r1", msgs[0]["roomId"])
		assert.Equal(t, uint64(b.ID()), asUint(t, msgs[0]["userId"]))
		assert.Empty(t, drain(t, b), "the joiner is not told about its own join")
		checkInvariants(t, h)
	})

	t.Run("joining the current room again repeats the announcement", func(t *testing.T) {
		sendFrom(t, h, b, map[string]any{"type": "join-voice", "roomId": "r1"})

		msgs := drain(t, a)
		require.Len(t, msgs, 1)
		assert.Equal(t, "join-voice", msgs[0]["type"])
		assert.Equal(t, uint64(b.ID()), asUint(t, msgs[0]["userId"]))
		assert.Empty(t, drain(t, b))

		members, _ := h.RoomMembers("r1")
		assert.Equal(t, []protocol.ClientID{a.ID(), b.ID()}, members)
		checkInvariants(t, h)
	})

	t.Run("leaving another room is ignored", func(t *testing.T) {
		sendFrom(t, h, b, map[string]any{"type": "leave-voice", "roomId": "elsewhere"})

		assert.Empty(t, drain(t, a))
		room, ok := h.CurrentRoom(b.ID())
		assert.True(t, ok)
		assert.Equal(t, "r1", room)
	})

	t.Run("leave is announced to the remaining members", func(t *testing.T) {
		sendFrom(t, h, b, map[string]any{"type": "leave-voice", "roomId": "r1"})

		msgs := drain(t, a)
		require.Len(t, msgs, 1)
		assert.Equal(t, "leave-voice", msgs[0]["type"])
		assert.Equal(t, uint64(b.ID()), asUint(t, msgs[0]["userId"]))
		assert.Empty(t, drain(t, b), "the leaver is not told about its own leave")

		_, inRoom := h.CurrentRoom(b.ID())
		assert.False(t, inRoom)
		checkInvariants(t, h)
	})

	t.Run("last leaver deletes the room", func(t *testing.T) {
		sendFrom(t, h, a, map[string]any{"type": "leave-voice", "roomId": "r1"})

		_, ok := h.RoomMembers("r1")
		assert.False(t, ok)
		assert.Empty(t, h.Rooms())
		checkInvariants(t, h)
	})
}

func TestJoin_SwitchingRoomsLeavesTheOldOne(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	sendFrom(t, h, a, map[string]any{"type": "join-voice", "roomId": "r1"})
	sendFrom(t, h, b, map[string]any{"type": "join-voice", "roomId": "r1"})
	drainAll(t, a, b)

	sendFrom(t, h, b, map[string]any{"type": "join-voice", "roomId": "r2"})

	msgs := drain(t, a)
	require.Len(t, msgs, 1)
	assert.Equal(t, "leave-voice", msgs[0]["type"])
	assert.Equal(t, "r1", msgs[0]["roomId"])

	assert.Equal(t, map[string][]protocol.ClientID{
		"r1": {a.ID()},
		"r2": {b.ID()},
	}, h.Rooms())
	checkInvariants(t, h)
}

func TestJoinThenLeave_RestoresState(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	before := h.Stats()

	sendFrom(t, h, a, map[string]any{"type": "join-voice", "roomId": "solo"})
	sendFrom(t, h, a, map[string]any{"type": "leave-voice", "roomId": "solo"})

	assert.Equal(t, before, h.Stats())
	_, ok := h.CurrentRoom(a.ID())
	assert.False(t, ok)
}

func TestVoiceInvite_IsUnicast(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	c := addClient(t, h, nil)
	drainAll(t, a, b, c)

	sendFrom(t, h, a, map[string]any{"type": "voice-invite", "targetUserId": b.ID(), "roomId": "lobby"})

	msgs := drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "voice-invite", msgs[0]["type"])
	assert.Equal(t, "lobby", msgs[0]["roomId"])
	assert.Equal(t, uint64(a.ID()), asUint(t, msgs[0]["userId"]))
	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, c))
	assert.Empty(t, h.Rooms(), "an invite does not create a room")
}

func TestUnicast_UnknownTargetHasNoEffect(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	drainAll(t, a, b)
	before := h.Stats()

	sendFrom(t, h, a, map[string]any{"type": "voice-invite", "targetUserId": 99, "roomId": "lobby"})
	sendFrom(t, h, a, map[string]any{"type": "offer", "targetUserId": 99, "sdp": "x"})

	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))
	assert.Equal(t, before, h.Stats())
}

func TestSignal_RelayIsByteExact(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	c := addClient(t, h, nil)
	drainAll(t, a, b, c)

	for _, kind := range []string{"offer", "answer", "ice-candidate"} {
		t.Run(kind, func(t *testing.T) {
			raw := []byte(`{"type":"` + kind + `", "targetUserId":2, "sdp":{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 0.0.0.0"}, "x":[1, 2.5]}`)

			h.route(a, raw)

			select {
			case got := <-b.send:
				assert.Equal(t, raw, got)
			default:
				t.Fatal("target did not receive the relayed frame")
			}
			assert.Empty(t, drain(t, a))
			assert.Empty(t, drain(t, c))
		})
	}
}

func TestSignal_RelaysWhateverElseThePayloadCarries(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	c := addClient(t, h, nil)
	drainAll(t, a, b, c)

	for _, raw := range []string{
		`{"type":"offer","targetUserId":2,"roomId":7,"sdp":"v=0"}`,
		`{"type":"ice-candidate","targetUserId":2,"roomId":{"name":"r1"}}`,
		`{"type":"answer","targetUserId":2,"roomId":null,"message":false}`,
		`{"type":"offer","targetUserId":2,"TargetUserId":3}`,
	} {
		t.Run(raw, func(t *testing.T) {
			h.route(a, []byte(raw))

			select {
			case got := <-b.send:
				assert.Equal(t, raw, string(got))
			default:
				t.Fatal("target did not receive the relayed frame")
			}
			assert.Empty(t, drain(t, c), "only targetUserId routes the frame")
		})
	}
}

func TestChat_KeysAreCaseSensitive(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	drainAll(t, a, b)

	h.route(a, []byte(`{"TYPE":"chat","MESSAGE":"hi"}`))

	assert.Empty(t, drain(t, b))
}

func TestVoiceInvite_EmptyRoomIsForwarded(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	drainAll(t, a, b)

	h.route(a, []byte(`{"type":"voice-invite","targetUserId":2,"roomId":""}`))

	msgs := drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "voice-invite", msgs[0]["type"])
	assert.Equal(t, "", msgs[0]["roomId"])
}

func TestSignal_TranscodesBetweenCodecs(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, protocol.JSONCodec{})
	b := addClient(t, h, protocol.MsgpackCodec{})
	drainAll(t, a, b)

	h.route(a, []byte(`{"type":"ice-candidate","targetUserId":2,"candidate":{"sdpMid":"0","sdpMLineIndex":0}}`))

	msgs := drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ice-candidate", msgs[0]["type"])
	assert.Equal(t, uint64(2), asUint(t, msgs[0]["targetUserId"]))
	candidate, ok := msgs[0]["candidate"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0", candidate["sdpMid"])
}

func TestMixedCodecs_EventsUseRecipientCodec(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, protocol.MsgpackCodec{})
	b := addClient(t, h, protocol.JSONCodec{})
	drainAll(t, a, b)

	sendFrom(t, h, a, map[string]any{"type": "chat", "message": "packed"})

	msgs := drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "packed", msgs[0]["message"])
}

func TestInvalidFrames_AreDroppedSilently(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	drainAll(t, a, b)
	before := h.Stats()

	for _, raw := range []string{
		`not json`,
		`{"message":"no type"}`,
		`{"type":"dance"}`,
		`{"type":"chat"}`,
		`{"type":"join-voice","roomId":""}`,
		`{"type":"offer"}`,
	} {
		h.route(a, []byte(raw))
	}

	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))
	assert.Equal(t, before, h.Stats())
	assert.Equal(t, []protocol.ClientID{a.ID(), b.ID()}, h.Roster())
}

func TestRoute_IgnoresUnregisteredSender(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	h.unregisterClient(a)
	drainAll(t, b)

	sendFrom(t, h, a, map[string]any{"type": "chat", "message": "ghost"})

	assert.Empty(t, drain(t, b))
}

func TestDeliver_FullQueueDropsWithoutDisconnecting(t *testing.T) {
	cfg := config.Default()
	cfg.SendBuffer = 1
	h := NewHub(cfg, nil)

	a := NewClient(nil, h, "a", nil)
	h.registerClient(a)
	b := NewClient(nil, h, "b", nil)
	h.registerClient(b)

	assert.Equal(t, []protocol.ClientID{1, 2}, h.Roster(), "a stays registered with a full queue")
	msgs := drain(t, a)
	require.Len(t, msgs, 1)
	assert.Equal(t, []protocol.ClientID{1}, rosterOf(t, msgs[0]), "the second roster was dropped")
}

func TestDisconnect_InSharedRoom(t *testing.T) {
	h := newTestHub(t)
	a := addClient(t, h, nil)
	b := addClient(t, h, nil)
	sendFrom(t, h, a, map[string]any{"type": "join-voice", "roomId": "r"})
	sendFrom(t, h, b, map[string]any{"type": "join-voice", "roomId": "r"})
	drainAll(t, a, b)

	h.unregisterClient(a)

	members, ok := h.RoomMembers("r")
	require.True(t, ok, "room survives with one participant")
	assert.Equal(t, []protocol.ClientID{b.ID()}, members)
	assert.Equal(t, []protocol.ClientID{b.ID()}, h.Roster())

	msgs := drain(t, b)
	require.Len(t, msgs, 2)
	assert.Equal(t, "leave-voice", msgs[0]["type"])
	assert.Equal(t, uint64(a.ID()), asUint(t, msgs[0]["userId"]))
	assert.Equal(t, []protocol.ClientID{b.ID()}, rosterOf(t, msgs[1]))

	assert.Empty(t, drain(t, a), "the disconnected client gets no leave event")
	checkInvariants(t, h)
}

func TestScenario_ChatRoomsAndDisconnect(t *testing.T) {
	h := newTestHub(t)

	a := addClient(t, h, nil)
	msgs := drain(t, a)
	require.Len(t, msgs, 1)
	assert.Equal(t, []protocol.ClientID{a.ID()}, rosterOf(t, msgs[0]))

	b := addClient(t, h, nil)
	for _, c := range []*Client{a, b} {
		msgs := drain(t, c)
		require.Len(t, msgs, 1)
		assert.Equal(t, []protocol.ClientID{a.ID(), b.ID()}, rosterOf(t, msgs[0]))
	}

	sendFrom(t, h, a, map[string]any{"type": "chat", "message": "hi"})
	msgs = drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0]["message"])
	assert.Empty(t, drain(t, a))

	sendFrom(t, h, a, map[string]any{"type": "join-voice", "roomId": "r1"})
	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))

	sendFrom(t, h, b, map[string]any{"type": "join-voice", "roomId": "r1"})
	msgs = drain(t, a)
	require.Len(t, msgs, 1)
	assert.Equal(t, "join-voice", msgs[0]["type"])

	sendFrom(t, h, b, map[string]any{"type": "leave-voice", "roomId": "r1"})
	msgs = drain(t, a)
	require.Len(t, msgs, 1)
	assert.Equal(t, "leave-voice", msgs[0]["type"])
	members, _ := h.RoomMembers("r1")
	assert.Equal(t, []protocol.ClientID{a.ID()}, members)

	h.unregisterClient(a)
	_, ok := h.RoomMembers("r1")
	assert.False(t, ok)
	msgs = drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, []protocol.ClientID{b.ID()}, rosterOf(t, msgs[0]))
	checkInvariants(t, h)
}

func TestHubRun_RegisterAndShutdown(t *testing.T) {
	h := newTestHub(t)
	go h.Run()

	client := NewClient(nil, h, "127.0.0.1:0", nil)
	require.True(t, h.Register(client))

	select {
	case data := <-client.GetSendChan():
		assert.JSONEq(t, `{"type":"userList","users":[1]}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("no roster after registration")
	}

	require.NoError(t, h.Shutdown(time.Second))

	_, open := <-client.GetSendChan()
	assert.False(t, open, "shutdown closes outbound queues")
	assert.False(t, h.Register(NewClient(nil, h, "late", nil)), "a stopped hub rejects clients")
	assert.Empty(t, h.Roster())
}
