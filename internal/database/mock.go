package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGoVoiceChatRepository struct {
	mock.Mock
}

func (m *MockGoVoiceChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoVoiceChatRepository) GetUser(ctx context.Context, userId string) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoVoiceChatRepository) UpdateUserLocation(ctx context.Context, params UpdateLocationParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}
func (m *MockGoVoiceChatRepository) GetServer(ctx context.Context, serverId string) (Server, error) {
	args := m.Called(ctx, serverId)
	return args.Get(0).(Server), args.Error(1)
}
func (m *MockGoVoiceChatRepository) UpdateServer(ctx context.Context, params UpdateServerParams) (Server, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Server), args.Error(1)
}
func (m *MockGoVoiceChatRepository) GetChannel(ctx context.Context, channelId string) (Channel, error) {
	args := m.Called(ctx, channelId)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockGoVoiceChatRepository) ListServerChannels(ctx context.Context, serverId string) ([]Channel, error) {
	args := m.Called(ctx, serverId)
	return args.Get(0).([]Channel), args.Error(1)
}
func (m *MockGoVoiceChatRepository) GetMember(ctx context.Context, userId, serverId string) (Member, error) {
	args := m.Called(ctx, userId, serverId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockGoVoiceChatRepository) CreateMember(ctx context.Context, params CreateMemberParams) (Member, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockGoVoiceChatRepository) UpdateMember(ctx context.Context, params UpdateMemberParams) (Member, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockGoVoiceChatRepository) ListOnlineMembers(ctx context.Context, serverId string) ([]OnlineMember, error) {
	args := m.Called(ctx, serverId)
	return args.Get(0).([]OnlineMember), args.Error(1)
}
func (m *MockGoVoiceChatRepository) UpsertUserServer(ctx context.Context, params UserServerParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}
