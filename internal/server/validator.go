package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type ConnectServerPayload struct {
	UserId   string `json:"userId" validate:"required,max=64"`
	ServerId string `json:"serverId" validate:"required,max=64"`
}

type DisconnectServerPayload struct {
	UserId   string `json:"userId" validate:"required,max=64"`
	ServerId string `json:"serverId" validate:"required,max=64"`
}

type ConnectChannelPayload struct {
	UserId    string `json:"userId" validate:"required,max=64"`
	ChannelId string `json:"channelId" validate:"required,max=64"`
	ServerId  string `json:"serverId" validate:"required,max=64"`
	Password  string `json:"password,omitempty" validate:"max=72"`
}

type DisconnectChannelPayload struct {
	UserId    string `json:"userId" validate:"required,max=64"`
	ChannelId string `json:"channelId" validate:"required,max=64"`
	ServerId  string `json:"serverId" validate:"required,max=64"`
}

type MemberUpdate struct {
	Nickname        *string `json:"nickname,omitempty" validate:"omitempty,max=32"`
	PermissionLevel *int    `json:"permissionLevel,omitempty" validate:"omitempty,min=0,max=6"`
	IsBlocked       *int64  `json:"isBlocked,omitempty" validate:"omitempty,min=-1"`
}

type UpdateMemberPayload struct {
	UserId   string       `json:"userId" validate:"required,max=64"`
	ServerId string       `json:"serverId" validate:"required,max=64"`
	Member   MemberUpdate `json:"member"`
}

type ServerUpdate struct {
	Name             *string `json:"name,omitempty" validate:"omitempty,min=1,max=32"`
	Visibility       *string `json:"visibility,omitempty" validate:"omitempty,oneof=public private invisible"`
	LobbyId          *string `json:"lobbyId,omitempty" validate:"omitempty,max=64"`
	ReceptionLobbyId *string `json:"receptionLobbyId,omitempty" validate:"omitempty,max=64"`
}

type UpdateServerPayload struct {
	ServerId string       `json:"serverId" validate:"required,max=64"`
	Server   ServerUpdate `json:"server"`
}

// validatePayload decodes raw into dst and checks its struct tags. part names
// the event in the returned ValidationError.
func validatePayload(part string, raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return newValidationError(part, "missing payload")
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return newValidationError(part, "malformed payload")
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return newValidationError(part, fmt.Sprintf("%s failed on the '%s' rule", lowerFirst(fe.Field()), fe.Tag()))
		}
		return newValidationError(part, err.Error())
	}

	return nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
