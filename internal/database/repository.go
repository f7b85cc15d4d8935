package database

import "context"

type GoVoiceChatRepository interface {
	Ping() error
	GetUser(ctx context.Context, userId string) (User, error)
	UpdateUserLocation(ctx context.Context, params UpdateLocationParams) error
	GetServer(ctx context.Context, serverId string) (Server, error)
	UpdateServer(ctx context.Context, params UpdateServerParams) (Server, error)
	GetChannel(ctx context.Context, channelId string) (Channel, error)
	ListServerChannels(ctx context.Context, serverId string) ([]Channel, error)
	GetMember(ctx context.Context, userId, serverId string) (Member, error)
	CreateMember(ctx context.Context, params CreateMemberParams) (Member, error)
	UpdateMember(ctx context.Context, params UpdateMemberParams) (Member, error)
	ListOnlineMembers(ctx context.Context, serverId string) ([]OnlineMember, error)
	UpsertUserServer(ctx context.Context, params UserServerParams) error
}
