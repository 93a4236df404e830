package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/omdarshan-4964/CodeStream/domain"
)

// WorkspaceMessage is the workspace-mode frame.
type WorkspaceMessage struct {
	Type    domain.Kind     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type codeChangePayload struct {
	Content *string `json:"content"`
}

// Workspace speaks the raw-socket dialect: the workspace comes from the
// URL, frames are validated and then forwarded byte for byte.
type Workspace struct{}

func NewWorkspace() *Workspace { return &Workspace{} }

func (*Workspace) Name() string { return "workspace" }

func (*Workspace) AcceptsJoinMessage() bool { return false }

func (*Workspace) Admission(query url.Values) (JoinRequest, bool) {
	id := query.Get("workspaceId")
	if id == "" {
		return JoinRequest{}, false
	}
	return JoinRequest{RoomID: id}, true
}

func (*Workspace) Decode(data []byte) (Inbound, error) {
	var msg WorkspaceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	if len(msg.Payload) == 0 {
		return Inbound{}, fmt.Errorf("%w: %s: missing payload", domain.ErrProtocol, msg.Type)
	}

	switch msg.Type {
	case domain.KindCodeChange:
		var p codeChangePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Inbound{}, fmt.Errorf("%w: %s: %v", domain.ErrProtocol, msg.Type, err)
		}
		if p.Content == nil {
			return Inbound{}, fmt.Errorf("%w: %s: missing content", domain.ErrProtocol, msg.Type)
		}
	case domain.KindFileSelect:
		var p FileSelection
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Inbound{}, fmt.Errorf("%w: %s: %v", domain.ErrProtocol, msg.Type, err)
		}
		if p.FileID == "" {
			return Inbound{}, fmt.Errorf("%w: %s: missing fileId", domain.ErrProtocol, msg.Type)
		}
	default:
		return Inbound{}, fmt.Errorf("%w: unknown type %q", domain.ErrProtocol, msg.Type)
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	return Inbound{Kind: msg.Type, Frame: frame}, nil
}
