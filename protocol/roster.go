package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/omdarshan-4964/CodeStream/domain"
)

const (
	EventJoinRoom          = "join-room"
	EventCodeChange        = "code-change"
	EventFileSelect        = "file-select"
	EventReceiveCode       = "receive-code"
	EventReceiveFileSelect = "receive-file-select"
	EventUpdateTeamList    = "update-team-list"

	// AnonymousUsername is shown for members that joined without a name.
	AnonymousUsername = "Anonymous"
)

// Envelope is the roster-mode frame: a named event and its data.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinRoomData struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type codeChangeData struct {
	RoomID string  `json:"roomId"`
	Code   *string `json:"code"`
}

type FileSelection struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
}

type fileSelectData struct {
	RoomID string `json:"roomId"`
	FileSelection
}

// Roster speaks the room protocol: explicit join-room, code and
// file-selection relays, and update-team-list roster snapshots.
type Roster struct{}

func NewRoster() *Roster { return &Roster{} }

func (*Roster) Name() string { return "roster" }

func (*Roster) AcceptsJoinMessage() bool { return true }

func (*Roster) Admission(query url.Values) (JoinRequest, bool) {
	roomID := query.Get("roomId")
	if roomID == "" {
		return JoinRequest{}, false
	}
	return JoinRequest{RoomID: roomID, Username: usernameOrAnonymous(query.Get("username"))}, true
}

func (*Roster) Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	switch env.Event {
	case EventJoinRoom:
		return decodeJoinRoom(env.Data)

	case EventCodeChange:
		var d codeChangeData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Inbound{}, fmt.Errorf("%w: %s: %v", domain.ErrProtocol, env.Event, err)
		}
		if d.Code == nil {
			return Inbound{}, fmt.Errorf("%w: %s: missing code", domain.ErrProtocol, env.Event)
		}
		frame, err := encode(EventReceiveCode, *d.Code)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Kind: domain.KindCodeChange, RoomID: d.RoomID, Frame: frame}, nil

	case EventFileSelect:
		var d fileSelectData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Inbound{}, fmt.Errorf("%w: %s: %v", domain.ErrProtocol, env.Event, err)
		}
		if d.FileID == "" {
			return Inbound{}, fmt.Errorf("%w: %s: missing fileId", domain.ErrProtocol, env.Event)
		}
		frame, err := encode(EventReceiveFileSelect, d.FileSelection)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Kind: domain.KindFileSelect, RoomID: d.RoomID, Frame: frame}, nil

	default:
		return Inbound{}, fmt.Errorf("%w: unknown event %q", domain.ErrProtocol, env.Event)
	}
}

func (*Roster) EncodeRoster(roster []domain.Member) ([]byte, error) {
	if roster == nil {
		roster = []domain.Member{}
	}
	return encode(EventUpdateTeamList, roster)
}

// decodeJoinRoom accepts either {"roomId":..,"username":..} or a bare room
// id string, the form older clients emit.
func decodeJoinRoom(raw json.RawMessage) (Inbound, error) {
	var d joinRoomData
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &d.RoomID); err != nil {
			return Inbound{}, fmt.Errorf("%w: %s: %v", domain.ErrProtocol, EventJoinRoom, err)
		}
	} else if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return Inbound{}, fmt.Errorf("%w: %s: %v", domain.ErrProtocol, EventJoinRoom, err)
		}
	}
	return Inbound{Join: &JoinRequest{RoomID: d.RoomID, Username: usernameOrAnonymous(d.Username)}}, nil
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func usernameOrAnonymous(name string) string {
	if name == "" {
		return AnonymousUsername
	}
	return name
}
