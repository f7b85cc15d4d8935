package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-voicechat/internal/types"
)

// inbound events
const (
	EventConnectServer     = "connectServer"
	EventDisconnectServer  = "disconnectServer"
	EventConnectChannel    = "connectChannel"
	EventDisconnectChannel = "disconnectChannel"
	EventUpdateMember      = "updateMember"
	EventUpdateServer      = "updateServer"
	EventPing              = "ping"
)

// outbound events
const (
	EventAck                      = "ack"
	EventError                    = "error"
	EventPong                     = "pong"
	EventUserUpdate               = "userUpdate"
	EventServerUpdate             = "serverUpdate"
	EventServerChannelsSet        = "serverChannelsSet"
	EventServerOnlineMembersSet   = "serverOnlineMembersSet"
	EventServerOnlineMemberAdd    = "serverOnlineMemberAdd"
	EventServerOnlineMemberDelete = "serverOnlineMemberDelete"
	EventServerOnlineMemberUpdate = "serverOnlineMemberUpdate"
	EventServerMemberUpdate       = "serverMemberUpdate"
	EventOpenPopup                = "openPopup"
)

const (
	PopupApplyMember        = "applyMember"
	PopupDialogError        = "dialogError"
	PopupDialogKicked       = "dialogKicked"
	PopupAnotherDeviceLogin = "anotherDeviceLogin"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Ack struct {
	Event   string `json:"event"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type memberRemoved struct {
	UserId   string `json:"userId"`
	ServerId string `json:"serverId"`
}

type errorDialog struct {
	ServerId string     `json:"serverId"`
	Message  string     `json:"message"`
	Until    *time.Time `json:"until,omitempty"`
}

type kickedDialog struct {
	ServerId   string `json:"serverId"`
	ServerName string `json:"serverName"`
}

func NewEvent(event string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: event,
		Data:  data,
	}
}

func NewAck(id int, event string, outcome string, reason string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: EventAck,
		Data: Ack{
			Event:   event,
			Outcome: outcome,
			Reason:  reason,
		},
	}
}

func NewError(id int, e types.Error) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: EventError,
		Data:  e,
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	return NewError(id, types.Error{
		Name:       "ValidationError",
		Message:    "invalid message format",
		Part:       "MESSAGE",
		Tag:        TagInvalidPayload,
		StatusCode: http.StatusBadRequest,
	})
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
