package types

import (
	"time"
)

type User struct {
	Id               string    `json:"id"`
	Username         string    `json:"username"`
	CurrentServerId  *string   `json:"currentServerId"`
	CurrentChannelId *string   `json:"currentChannelId"`
	LastActiveAt     time.Time `json:"lastActiveAt"`
}

type Server struct {
	Id               string `json:"id"`
	Name             string `json:"name"`
	Visibility       string `json:"visibility"`
	LobbyId          string `json:"lobbyId"`
	ReceptionLobbyId string `json:"receptionLobbyId,omitempty"`
	OwnerId          string `json:"ownerId"`
}

type Channel struct {
	Id          string `json:"id"`
	ServerId    string `json:"serverId"`
	Name        string `json:"name"`
	Visibility  string `json:"visibility"`
	HasPassword bool   `json:"hasPassword"`
	IsLobby     bool   `json:"isLobby"`
}

type Member struct {
	UserId          string `json:"userId"`
	ServerId        string `json:"serverId"`
	Nickname        string `json:"nickname,omitempty"`
	PermissionLevel int    `json:"permissionLevel"`
	IsBlocked       int64  `json:"isBlocked"`
}

type OnlineMember struct {
	UserId           string `json:"userId"`
	ServerId         string `json:"serverId"`
	Username         string `json:"username"`
	Nickname         string `json:"nickname,omitempty"`
	PermissionLevel  int    `json:"permissionLevel"`
	CurrentChannelId string `json:"currentChannelId,omitempty"`
}

// Popup asks the client to open a dialog.
type Popup struct {
	Type        string `json:"type"`
	InitialData any    `json:"initialData,omitempty"`
}

type Error struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	Part       string `json:"part"`
	Tag        string `json:"tag"`
	StatusCode int    `json:"statusCode"`
}
