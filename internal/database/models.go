package database

import "time"

type User struct {
	Id               string
	Username         string
	CurrentServerId  string
	CurrentChannelId string
	LastActiveAt     time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Server struct {
	Id               string
	Name             string
	Visibility       string
	LobbyId          string
	ReceptionLobbyId string
	OwnerId          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Channel struct {
	Id           string
	ServerId     string
	Name         string
	Visibility   string
	PasswordHash string
	IsLobby      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Member is the (user, server) relationship. IsBlocked is 0 when the member
// is not blocked, -1 when blocked permanently, otherwise the unix millisecond
// timestamp the block expires at.
type Member struct {
	UserId          string
	ServerId        string
	Nickname        string
	PermissionLevel int
	IsBlocked       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type OnlineMember struct {
	UserId           string
	Username         string
	Nickname         string
	PermissionLevel  int
	CurrentChannelId string
}

type UpdateLocationParams struct {
	UserId           string
	CurrentServerId  string
	CurrentChannelId string
	LastActiveAt     time.Time
}

type CreateMemberParams struct {
	UserId          string
	ServerId        string
	PermissionLevel int
}

type UpdateMemberParams struct {
	UserId          string
	ServerId        string
	Nickname        string
	PermissionLevel int
	IsBlocked       int64
}

type UpdateServerParams struct {
	ServerId         string
	Name             string
	Visibility       string
	LobbyId          string
	ReceptionLobbyId string
}

type UserServerParams struct {
	UserId    string
	ServerId  string
	Recent    bool
	Timestamp time.Time
}
