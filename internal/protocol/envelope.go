package protocol

import (
	"errors"
	"fmt"
)

// ClientID identifies a connected client. Ids are assigned by the server.
type ClientID uint64

// Type is the envelope discriminator.
type Type string

const (
	TypeChat         Type = "chat"
	TypeJoinVoice    Type = "join-voice"
	TypeLeaveVoice   Type = "leave-voice"
	TypeVoiceInvite  Type = "voice-invite"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeUserList     Type = "userList"
)

var (
	ErrMissingType   = errors.New("envelope has no string type")
	ErrUnknownType   = errors.New("unknown envelope type")
	ErrMissingField  = errors.New("required field missing")
	ErrMalformedBody = errors.New("malformed envelope body")
)

// Inbound is one decoded client frame. The concrete type is one of Chat,
// JoinVoice, LeaveVoice, VoiceInvite, Signal or Unknown.
type Inbound interface {
	EnvelopeType() Type
}

// Chat is a chat line for every other connected client.
type Chat struct {
	Message string
}

// JoinVoice asks to join a voice room.
type JoinVoice struct {
	RoomID string
}

// LeaveVoice asks to leave a voice room.
type LeaveVoice struct {
	RoomID string
}

// VoiceInvite invites Target into RoomID.
type VoiceInvite struct {
	Target ClientID
	RoomID string
}

// Signal is an offer, answer or ICE candidate. Raw holds the frame exactly as
// it was received; only Target is read from it.
type Signal struct {
	Kind   Type
	Target ClientID
	Raw    []byte
}

// Unknown is any frame that could not be decoded into a known variant.
type Unknown struct {
	Type   string
	Reason error
}

func (Chat) EnvelopeType() Type        { return TypeChat }
func (JoinVoice) EnvelopeType() Type   { return TypeJoinVoice }
func (LeaveVoice) EnvelopeType() Type  { return TypeLeaveVoice }
func (VoiceInvite) EnvelopeType() Type { return TypeVoiceInvite }
func (s Signal) EnvelopeType() Type    { return s.Kind }
func (u Unknown) EnvelopeType() Type   { return Type(u.Type) }

// field decodes the value stored under the exact key name. It returns nil
// when the key is absent or null.
func field[T any](codec Codec, fields map[string][]byte, name string) (*T, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, nil
	}
	var v *T
	if err := codec.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// Parse decodes a frame with the given codec. It never fails: frames that do
// not match a known shape come back as Unknown with the reason attached.
// Field names are matched exactly and only the fields a variant needs are
// decoded; everything else in the frame is left alone.
func Parse(codec Codec, data []byte) Inbound {
	fields, err := codec.Fields(data)
	if err != nil {
		return Unknown{Reason: ErrMissingType}
	}
	typ, err := field[string](codec, fields, "type")
	if err != nil || typ == nil {
		return Unknown{Reason: ErrMissingType}
	}

	t := Type(*typ)
	switch t {
	case TypeChat:
		message, err := field[string](codec, fields, "message")
		if err != nil {
			return malformed(t, err)
		}
		if message == nil {
			return missing(t, "message")
		}
		return Chat{Message: *message}

	case TypeJoinVoice, TypeLeaveVoice:
		roomID, err := field[string](codec, fields, "roomId")
		if err != nil {
			return malformed(t, err)
		}
		if roomID == nil || *roomID == "" {
			return missing(t, "roomId")
		}
		if t == TypeJoinVoice {
			return JoinVoice{RoomID: *roomID}
		}
		return LeaveVoice{RoomID: *roomID}

	case TypeVoiceInvite:
		target, err := field[uint64](codec, fields, "targetUserId")
		if err != nil {
			return malformed(t, err)
		}
		if target == nil {
			return missing(t, "targetUserId")
		}
		roomID, err := field[string](codec, fields, "roomId")
		if err != nil {
			return malformed(t, err)
		}
		if roomID == nil {
			return missing(t, "roomId")
		}
		return VoiceInvite{Target: ClientID(*target), RoomID: *roomID}

	case TypeOffer, TypeAnswer, TypeICECandidate:
		target, err := field[uint64](codec, fields, "targetUserId")
		if err != nil {
			return malformed(t, err)
		}
		if target == nil {
			return missing(t, "targetUserId")
		}
		return Signal{Kind: t, Target: ClientID(*target), Raw: data}

	default:
		return Unknown{Type: string(t), Reason: ErrUnknownType}
	}
}

func malformed(t Type, err error) Unknown {
	return Unknown{Type: string(t), Reason: fmt.Errorf("%w: %v", ErrMalformedBody, err)}
}

func missing(t Type, field string) Unknown {
	return Unknown{Type: string(t), Reason: fmt.Errorf("%w: %s", ErrMissingField, field)}
}
