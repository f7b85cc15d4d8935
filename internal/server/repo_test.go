package server

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-voicechat/internal/database"
	"github.com/npezzotti/go-voicechat/internal/policy"
	"github.com/npezzotti/go-voicechat/internal/session"
	"github.com/npezzotti/go-voicechat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memberKey struct {
	userId   string
	serverId string
}

// memoryRepo is an in-memory GoVoiceChatRepository for coordinator tests.
type memoryRepo struct {
	mu       sync.Mutex
	users    map[string]database.User
	servers  map[string]database.Server
	channels map[string]database.Channel
	members  map[memberKey]database.Member
	recent   map[memberKey]time.Time
	err      error
}

var _ database.GoVoiceChatRepository = (*memoryRepo)(nil)

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:    make(map[string]database.User),
		servers:  make(map[string]database.Server),
		channels: make(map[string]database.Channel),
		members:  make(map[memberKey]database.Member),
		recent:   make(map[memberKey]time.Time),
	}
}

func (r *memoryRepo) failWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *memoryRepo) Ping() error {
	return nil
}

func (r *memoryRepo) GetUser(_ context.Context, userId string) (database.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return database.User{}, r.err
	}
	u, ok := r.users[userId]
	if !ok {
		return database.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (r *memoryRepo) UpdateUserLocation(_ context.Context, params database.UpdateLocationParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	u, ok := r.users[params.UserId]
	if !ok {
		return sql.ErrNoRows
	}
	u.CurrentServerId = params.CurrentServerId
	u.CurrentChannelId = params.CurrentChannelId
	u.LastActiveAt = params.LastActiveAt
	r.users[params.UserId] = u
	return nil
}

func (r *memoryRepo) GetServer(_ context.Context, serverId string) (database.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return database.Server{}, r.err
	}
	s, ok := r.servers[serverId]
	if !ok {
		return database.Server{}, sql.ErrNoRows
	}
	return s, nil
}

func (r *memoryRepo) UpdateServer(_ context.Context, params database.UpdateServerParams) (database.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[params.ServerId]
	if !ok {
		return database.Server{}, sql.ErrNoRows
	}
	s.Name = params.Name
	s.Visibility = params.Visibility
	s.LobbyId = params.LobbyId
	s.ReceptionLobbyId = params.ReceptionLobbyId
	r.servers[params.ServerId] = s
	return s, nil
}

func (r *memoryRepo) GetChannel(_ context.Context, channelId string) (database.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return database.Channel{}, r.err
	}
	c, ok := r.channels[channelId]
	if !ok {
		return database.Channel{}, sql.ErrNoRows
	}
	return c, nil
}

func (r *memoryRepo) ListServerChannels(_ context.Context, serverId string) ([]database.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var channels []database.Channel
	for _, c := range r.channels {
		if c.ServerId == serverId {
			channels = append(channels, c)
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Id < channels[j].Id })
	return channels, nil
}

func (r *memoryRepo) GetMember(_ context.Context, userId, serverId string) (database.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return database.Member{}, r.err
	}
	m, ok := r.members[memberKey{userId, serverId}]
	if !ok {
		return database.Member{}, sql.ErrNoRows
	}
	return m, nil
}

func (r *memoryRepo) CreateMember(_ context.Context, params database.CreateMemberParams) (database.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memberKey{params.UserId, params.ServerId}
	if m, ok := r.members[key]; ok {
		return m, nil
	}
	m := database.Member{
		UserId:          params.UserId,
		ServerId:        params.ServerId,
		PermissionLevel: params.PermissionLevel,
	}
	r.members[key] = m
	return m, nil
}

func (r *memoryRepo) UpdateMember(_ context.Context, params database.UpdateMemberParams) (database.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memberKey{params.UserId, params.ServerId}
	m, ok := r.members[key]
	if !ok {
		return database.Member{}, sql.ErrNoRows
	}
	m.Nickname = params.Nickname
	m.PermissionLevel = params.PermissionLevel
	m.IsBlocked = params.IsBlocked
	r.members[key] = m
	return m, nil
}

func (r *memoryRepo) ListOnlineMembers(_ context.Context, serverId string) ([]database.OnlineMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var online []database.OnlineMember
	for _, u := range r.users {
		if u.CurrentServerId != serverId {
			continue
		}
		m := r.members[memberKey{u.Id, serverId}]
		online = append(online, database.OnlineMember{
			UserId:           u.Id,
			Username:         u.Username,
			Nickname:         m.Nickname,
			PermissionLevel:  m.PermissionLevel,
			CurrentChannelId: u.CurrentChannelId,
		})
	}
	sort.Slice(online, func(i, j int) bool { return online[i].UserId < online[j].UserId })
	return online, nil
}

func (r *memoryRepo) UpsertUserServer(_ context.Context, params database.UserServerParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recent[memberKey{params.UserId, params.ServerId}] = params.Timestamp
	return nil
}

func (r *memoryRepo) user(t *testing.T, userId string) database.User {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userId]
	require.True(t, ok, "user %q not seeded", userId)
	return u
}

func (r *memoryRepo) member(userId, serverId string) (database.Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[memberKey{userId, serverId}]
	return m, ok
}

func (r *memoryRepo) setMember(userId, serverId string, level int, isBlocked int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[memberKey{userId, serverId}] = database.Member{
		UserId:          userId,
		ServerId:        serverId,
		PermissionLevel: level,
		IsBlocked:       isBlocked,
	}
}

func (r *memoryRepo) setLocation(userId, serverId, channelId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.users[userId]
	u.CurrentServerId = serverId
	u.CurrentChannelId = channelId
	r.users[userId] = u
}

func (r *memoryRepo) setChannelVisibility(channelId, visibility string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channels[channelId]
	ch.Visibility = visibility
	r.channels[channelId] = ch
}

const testChannelPassword = "hunter2"

// seedRepo creates three servers:
//
//	s1: public, lobby s1-lobby, reception lobby s1-reception, owned by olga
//	s2: public, lobby s2-lobby
//	s3: invisible, lobby s3-lobby
func seedRepo(t *testing.T) *memoryRepo {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testChannelPassword), bcrypt.MinCost)
	require.NoError(t, err)

	r := newMemoryRepo()
	for _, id := range []string{"alice", "bob", "carol", "dave", "olga"} {
		r.users[id] = database.User{Id: id, Username: id + "-name"}
	}

	r.servers["s1"] = database.Server{Id: "s1", Name: "One", Visibility: policy.ServerPublic, LobbyId: "s1-lobby", ReceptionLobbyId: "s1-reception", OwnerId: "olga"}
	r.servers["s2"] = database.Server{Id: "s2", Name: "Two", Visibility: policy.ServerPublic, LobbyId: "s2-lobby"}
	r.servers["s3"] = database.Server{Id: "s3", Name: "Three", Visibility: policy.ServerInvisible, LobbyId: "s3-lobby"}

	for _, c := range []database.Channel{
		{Id: "s1-lobby", ServerId: "s1", Visibility: policy.ChannelPublic, IsLobby: true},
		{Id: "s1-reception", ServerId: "s1", Visibility: policy.ChannelPublic, IsLobby: true},
		{Id: "s1-general", ServerId: "s1", Visibility: policy.ChannelPublic},
		{Id: "s1-members", ServerId: "s1", Visibility: policy.ChannelMember},
		{Id: "s1-staff", ServerId: "s1", Visibility: policy.ChannelReadonly},
		{Id: "s1-secret", ServerId: "s1", Visibility: policy.ChannelPrivate, PasswordHash: string(hash)},
		{Id: "s2-lobby", ServerId: "s2", Visibility: policy.ChannelPublic, IsLobby: true},
		{Id: "s2-general", ServerId: "s2", Visibility: policy.ChannelPublic},
		{Id: "s3-lobby", ServerId: "s3", Visibility: policy.ChannelPublic, IsLobby: true},
	} {
		r.channels[c.Id] = c
	}

	return r
}

type testEnv struct {
	repo     *memoryRepo
	hub      *Hub
	sessions *session.MemoryRegistry
	coord    *Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	l := testutil.TestLogger(t)
	repo := seedRepo(t)
	hub := NewHub(l)
	sessions := session.NewMemoryRegistry()

	return &testEnv{
		repo:     repo,
		hub:      hub,
		sessions: sessions,
		coord:    NewCoordinator(l, repo, sessions, hub),
	}
}

func newTestClient(t *testing.T, userId, connId string) *Client {
	return &Client{
		id:     connId,
		userId: userId,
		log:    testutil.TestLogger(t),
		send:   make(chan *ServerMessage, 256),
		stop:   make(chan struct{}),
	}
}

// connect adds a client for userId to the hub and runs ConnectUser on it.
func (e *testEnv) connect(t *testing.T, userId, connId string) *Client {
	t.Helper()

	c := newTestClient(t, userId, connId)
	e.hub.AddClient(c)
	require.NoError(t, e.coord.ConnectUser(context.Background(), userId, connId))
	return c
}

// enter connects userId and places it in serverId.
func (e *testEnv) enter(t *testing.T, userId, connId, serverId string) *Client {
	t.Helper()

	c := e.connect(t, userId, connId)
	d, err := e.coord.ConnectServer(context.Background(), userId, userId, serverId)
	require.NoError(t, err)
	require.Equal(t, policy.Allow, d.Outcome, d.Reason)
	return c
}

// assertLocated checks that the persisted location of userId and the groups
// of connId agree.
func (e *testEnv) assertLocated(t *testing.T, userId, connId, serverId, channelId string) {
	t.Helper()

	u := e.repo.user(t, userId)
	assert.Equal(t, serverId, u.CurrentServerId, "current server of %s", userId)
	assert.Equal(t, channelId, u.CurrentChannelId, "current channel of %s", userId)

	if channelId != "" {
		ch, ok := e.repo.channels[channelId]
		require.True(t, ok)
		assert.Equal(t, serverId, ch.ServerId, "channel %s must belong to the current server", channelId)
	}

	var want []string
	if serverId != "" {
		want = append(want, ServerGroup(serverId))
		if m, ok := e.repo.member(userId, serverId); ok && policy.IsManager(m.PermissionLevel) {
			want = append(want, ServerManagerGroup(serverId))
		}
	}
	if channelId != "" {
		want = append(want, ChannelGroup(channelId))
	}

	assert.ElementsMatch(t, want, e.hub.Groups(connId), "groups of %s", connId)
}

func drain(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func eventNames(msgs []*ServerMessage) []string {
	names := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		names = append(names, msg.Event)
	}
	return names
}

func findEvent(msgs []*ServerMessage, event string) *ServerMessage {
	for _, msg := range msgs {
		if msg.Event == event {
			return msg
		}
	}
	return nil
}
