package server

import (
	"github.com/npezzotti/go-voicechat/internal/database"
	"github.com/npezzotti/go-voicechat/internal/types"
)

func optional(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func toUser(u database.User) types.User {
	return types.User{
		Id:               u.Id,
		Username:         u.Username,
		CurrentServerId:  optional(u.CurrentServerId),
		CurrentChannelId: optional(u.CurrentChannelId),
		LastActiveAt:     u.LastActiveAt,
	}
}

func toServer(s database.Server) types.Server {
	return types.Server{
		Id:               s.Id,
		Name:             s.Name,
		Visibility:       s.Visibility,
		LobbyId:          s.LobbyId,
		ReceptionLobbyId: s.ReceptionLobbyId,
		OwnerId:          s.OwnerId,
	}
}

func toChannel(c database.Channel) types.Channel {
	return types.Channel{
		Id:          c.Id,
		ServerId:    c.ServerId,
		Name:        c.Name,
		Visibility:  c.Visibility,
		HasPassword: c.PasswordHash != "",
		IsLobby:     c.IsLobby,
	}
}

func toChannels(cs []database.Channel) []types.Channel {
	channels := make([]types.Channel, 0, len(cs))
	for _, c := range cs {
		channels = append(channels, toChannel(c))
	}
	return channels
}

func toMember(m database.Member) types.Member {
	return types.Member{
		UserId:          m.UserId,
		ServerId:        m.ServerId,
		Nickname:        m.Nickname,
		PermissionLevel: m.PermissionLevel,
		IsBlocked:       m.IsBlocked,
	}
}

func toOnlineMember(serverId string, m database.OnlineMember) types.OnlineMember {
	return types.OnlineMember{
		UserId:           m.UserId,
		ServerId:         serverId,
		Username:         m.Username,
		Nickname:         m.Nickname,
		PermissionLevel:  m.PermissionLevel,
		CurrentChannelId: m.CurrentChannelId,
	}
}

func toOnlineMembers(serverId string, ms []database.OnlineMember) []types.OnlineMember {
	members := make([]types.OnlineMember, 0, len(ms))
	for _, m := range ms {
		members = append(members, toOnlineMember(serverId, m))
	}
	return members
}

// onlineMember builds the roster entry for a user located in serverId.
func onlineMember(u database.User, m database.Member) types.OnlineMember {
	return types.OnlineMember{
		UserId:           u.Id,
		ServerId:         m.ServerId,
		Username:         u.Username,
		Nickname:         m.Nickname,
		PermissionLevel:  m.PermissionLevel,
		CurrentChannelId: u.CurrentChannelId,
	}
}
