package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-voicechat/internal/database"
	"github.com/npezzotti/go-voicechat/internal/policy"
	"github.com/npezzotti/go-voicechat/internal/session"
	"github.com/npezzotti/go-voicechat/internal/types"
	"golang.org/x/crypto/bcrypt"
)

// Coordinator moves users through Offline → Online → InServer → InChannel.
// Every public method holds the target user's lock for its whole duration,
// so the persisted location and the broadcast groups of one user change
// together and in order. Different users proceed concurrently.
type Coordinator struct {
	log      *log.Logger
	db       database.GoVoiceChatRepository
	sessions session.Registry
	rooms    Broadcaster
	locks    *userLocks
	now      func() time.Time

	evictions EvictionPublisher
}

// EvictionPublisher relays an eviction to the process that owns connId.
type EvictionPublisher interface {
	PublishEviction(ctx context.Context, connId string) error
}

func NewCoordinator(l *log.Logger, db database.GoVoiceChatRepository, sessions session.Registry, rooms Broadcaster) *Coordinator {
	return &Coordinator{
		log:      l,
		db:       db,
		sessions: sessions,
		rooms:    rooms,
		locks:    newUserLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetEvictionPublisher makes ConnectUser relay evictions of connections this
// process does not own.
func (c *Coordinator) SetEvictionPublisher(p EvictionPublisher) {
	c.evictions = p
}

// EvictConnection tells connId it was replaced by a login elsewhere and
// disconnects it. Unknown connections are ignored.
func (c *Coordinator) EvictConnection(connId string) {
	c.rooms.EmitToConnection(connId, EventOpenPopup, types.Popup{Type: PopupAnotherDeviceLogin})
	c.rooms.LeaveAllGroups(connId)
	c.rooms.DisconnectConnection(connId)
}

// followUp is a step an internal transition asks the coordinator to run
// once the transition itself has been applied.
type followUp interface {
	followUp()
}

// joinChannelFollowUp places a user located in serverId into the first
// candidate channel it is allowed to enter.
type joinChannelFollowUp struct {
	userId     string
	serverId   string
	candidates []string
}

func (joinChannelFollowUp) followUp() {}

// ErrStaleConnection is returned when an event was issued on a connection
// that no longer owns its user's session.
var ErrStaleConnection = errors.New("connection no longer owns the session")

type issuerKey struct{}

// WithIssuer records the connection an event arrived on. Coordinator methods
// refuse the event with ErrStaleConnection once that connection has been
// evicted, checked while the user lock is held.
func WithIssuer(ctx context.Context, connId string) context.Context {
	return context.WithValue(ctx, issuerKey{}, connId)
}

func issuerOf(ctx context.Context) (string, bool) {
	connId, ok := ctx.Value(issuerKey{}).(string)
	return connId, ok && connId != ""
}

// checkIssuer fails when the connection recorded in ctx no longer owns
// operatorId's session. Events without an issuer are not checked.
func (c *Coordinator) checkIssuer(ctx context.Context, operatorId string) error {
	issuer, ok := issuerOf(ctx)
	if !ok {
		return nil
	}

	current, err := c.connOf(ctx, operatorId)
	if err != nil {
		return err
	}
	if current != issuer {
		return ErrStaleConnection
	}

	return nil
}

func allowed() policy.Decision {
	return policy.Decision{Outcome: policy.Allow}
}

func denied(reason string) policy.Decision {
	return policy.Decision{Outcome: policy.Deny, Reason: reason}
}

// ConnectUser registers connId as userId's session, evicting any previous
// connection, and replays the persisted location.
func (c *Coordinator) ConnectUser(ctx context.Context, userId, connId string) error {
	unlock := c.locks.lock(userId)
	defer unlock()

	evicted, err := c.sessions.Register(ctx, userId, connId)
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}

	if evicted != "" && evicted != connId {
		c.log.Printf("user %q logged in from another device, evicting connection %q", userId, evicted)
		c.EvictConnection(evicted)
		if c.evictions != nil {
			if err := c.evictions.PublishEviction(ctx, evicted); err != nil {
				c.log.Printf("warn: relay eviction of %q: %v", evicted, err)
			}
		}
	}

	user, err := c.getUser(ctx, userId)
	if err != nil {
		return err
	}

	c.emitToConn(connId, EventUserUpdate, toUser(user))

	if user.CurrentServerId == "" {
		return nil
	}

	d, next, err := c.connectServer(ctx, connId, &user, user.CurrentServerId)
	if err != nil && !isNotFound(err) {
		return err
	}

	if err != nil || !d.Allowed() {
		c.log.Printf("warn: cannot restore %q to server %q, clearing location", userId, user.CurrentServerId)
		if err := c.setLocation(ctx, &user, "", ""); err != nil {
			return err
		}
		c.emitToConn(connId, EventUserUpdate, toUser(user))
		return nil
	}

	return c.runFollowUps(ctx, connId, next)
}

// DisconnectUser undoes ConnectUser for connId. A connection that no longer
// owns the session only leaves its groups. Cleanup ignores cancellation of
// ctx and always runs every step.
func (c *Coordinator) DisconnectUser(ctx context.Context, userId, connId string) error {
	ctx = context.WithoutCancel(ctx)

	unlock := c.locks.lock(userId)
	defer unlock()

	current, ok, err := c.sessions.Lookup(ctx, userId)
	if err != nil {
		c.rooms.LeaveAllGroups(connId)
		return fmt.Errorf("lookup session: %w", err)
	}

	if !ok || current != connId {
		c.rooms.LeaveAllGroups(connId)
		return nil
	}

	var errs []error
	user, err := c.getUser(ctx, userId)
	if err != nil {
		errs = append(errs, err)
	} else if err := c.leaveServer(ctx, connId, &user, ""); err != nil {
		errs = append(errs, err)
	}

	c.rooms.LeaveAllGroups(connId)

	if _, err := c.sessions.Remove(ctx, userId, connId); err != nil {
		errs = append(errs, fmt.Errorf("remove session: %w", err))
	}

	return errors.Join(errs...)
}

// ConnectServer moves userId into serverId and then into a channel of it.
// Only self moves are allowed.
func (c *Coordinator) ConnectServer(ctx context.Context, operatorId, userId, serverId string) (policy.Decision, error) {
	if operatorId != userId {
		return c.logDenied(EventConnectServer, operatorId, userId, denied(policy.ReasonMoveOther)), nil
	}

	unlock := c.locks.lock(userId)
	defer unlock()

	if err := c.checkIssuer(ctx, operatorId); err != nil {
		return policy.Decision{}, err
	}

	user, err := c.getUser(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	connId, err := c.connOf(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	d, next, err := c.connectServer(ctx, connId, &user, serverId)
	if err != nil {
		return policy.Decision{}, err
	}

	if !d.Allowed() {
		return c.logDenied(EventConnectServer, operatorId, userId, d), nil
	}

	return d, c.runFollowUps(ctx, connId, next)
}

// DisconnectServer removes userId from serverId. Removing another user is a
// kick and needs CanDisconnectOther.
func (c *Coordinator) DisconnectServer(ctx context.Context, operatorId, userId, serverId string) (policy.Decision, error) {
	unlock := c.locks.lock(userId)
	defer unlock()

	if err := c.checkIssuer(ctx, operatorId); err != nil {
		return policy.Decision{}, err
	}

	user, err := c.getUser(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	kickedBy := ""
	if operatorId != userId {
		operator, target, err := c.getMembers(ctx, operatorId, userId, serverId)
		if err != nil {
			return policy.Decision{}, err
		}

		d := policy.CanDisconnectOther(operator, target, user.CurrentServerId, serverId)
		if !d.Allowed() {
			return c.logDenied(EventDisconnectServer, operatorId, userId, d), nil
		}
		kickedBy = operatorId
	} else if user.CurrentServerId != serverId {
		return c.logDenied(EventDisconnectServer, operatorId, userId, denied(policy.ReasonNotInServer)), nil
	}

	connId, err := c.connOf(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	if err := c.leaveServer(ctx, connId, &user, kickedBy); err != nil {
		return policy.Decision{}, err
	}

	if kickedBy != "" {
		c.log.Printf("user %q kicked %q from server %q", operatorId, userId, serverId)
	}

	return allowed(), nil
}

// ConnectChannel moves userId into channelId, entering serverId first when
// the user is not there yet.
func (c *Coordinator) ConnectChannel(ctx context.Context, operatorId, userId, channelId, serverId, password string) (policy.Decision, error) {
	if operatorId != userId {
		return c.logDenied(EventConnectChannel, operatorId, userId, denied(policy.ReasonMoveOther)), nil
	}

	unlock := c.locks.lock(userId)
	defer unlock()

	if err := c.checkIssuer(ctx, operatorId); err != nil {
		return policy.Decision{}, err
	}

	user, err := c.getUser(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	channel, err := c.getChannel(ctx, channelId)
	if err != nil {
		return policy.Decision{}, err
	}

	if channel.ServerId != serverId {
		return c.logDenied(EventConnectChannel, operatorId, userId, denied(policy.ReasonChannelNotInServer)), nil
	}

	connId, err := c.connOf(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	// Entering the server yields a lobby follow-up which is only needed when
	// the requested channel turns out to be off limits.
	var fallback []followUp
	if user.CurrentServerId != serverId {
		d, next, err := c.connectServer(ctx, connId, &user, serverId)
		if err != nil {
			return policy.Decision{}, err
		}
		if !d.Allowed() {
			return c.logDenied(EventConnectChannel, operatorId, userId, d), nil
		}
		fallback = next
	}

	member, err := c.getMember(ctx, userId, serverId)
	if err != nil {
		return policy.Decision{}, err
	}

	d, err := c.joinChannel(ctx, connId, &user, member, channel, password)
	if err != nil {
		return policy.Decision{}, err
	}

	if !d.Allowed() {
		if d.Reason == policy.ReasonWrongPassword {
			c.emitToConn(connId, EventOpenPopup, types.Popup{
				Type:        PopupDialogError,
				InitialData: errorDialog{ServerId: serverId, Message: d.Reason},
			})
		}
		c.logDenied(EventConnectChannel, operatorId, userId, d)
		return d, c.runFollowUps(ctx, connId, fallback)
	}

	return d, nil
}

// DisconnectChannel takes userId out of channelId. A user removed by someone
// else is routed back to the server lobby.
func (c *Coordinator) DisconnectChannel(ctx context.Context, operatorId, userId, channelId, serverId string) (policy.Decision, error) {
	unlock := c.locks.lock(userId)
	defer unlock()

	if err := c.checkIssuer(ctx, operatorId); err != nil {
		return policy.Decision{}, err
	}

	user, err := c.getUser(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	var operator, target *database.Member
	if operatorId != userId {
		operator, target, err = c.getMembers(ctx, operatorId, userId, serverId)
		if err != nil {
			return policy.Decision{}, err
		}
	}

	d := policy.CanLeaveChannel(operatorId, userId, operator, target,
		user.CurrentServerId, user.CurrentChannelId, serverId, channelId)
	if !d.Allowed() {
		return c.logDenied(EventDisconnectChannel, operatorId, userId, d), nil
	}

	connId, err := c.connOf(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	if err := c.leaveChannel(ctx, connId, &user); err != nil {
		return policy.Decision{}, err
	}

	if operatorId == userId {
		return d, nil
	}

	server, err := c.getServer(ctx, serverId)
	if err != nil {
		return policy.Decision{}, err
	}

	var candidates []string
	for _, id := range []string{server.LobbyId, server.ReceptionLobbyId} {
		if id != channelId {
			candidates = append(candidates, id)
		}
	}

	return d, c.runFollowUps(ctx, connId, []followUp{
		joinChannelFollowUp{userId: userId, serverId: serverId, candidates: candidates},
	})
}

// UpdateMember applies the non-nil fields of update to userId's membership
// in serverId. Every changed field must pass the policy or nothing changes.
func (c *Coordinator) UpdateMember(ctx context.Context, operatorId, userId, serverId string, update MemberUpdate) (policy.Decision, error) {
	unlock := c.locks.lock(userId)
	defer unlock()

	if err := c.checkIssuer(ctx, operatorId); err != nil {
		return policy.Decision{}, err
	}

	if _, err := c.getServer(ctx, serverId); err != nil {
		return policy.Decision{}, err
	}

	operator, target, err := c.getMembers(ctx, operatorId, userId, serverId)
	if err != nil {
		return policy.Decision{}, err
	}

	if target == nil {
		return policy.Decision{}, newNotFoundError("member")
	}

	params := database.UpdateMemberParams{
		UserId:          userId,
		ServerId:        serverId,
		Nickname:        target.Nickname,
		PermissionLevel: target.PermissionLevel,
		IsBlocked:       target.IsBlocked,
	}

	checks := []struct {
		set      bool
		field    policy.Field
		newLevel int
	}{
		{update.Nickname != nil, policy.FieldNickname, 0},
		{update.IsBlocked != nil, policy.FieldBlock, 0},
		{update.PermissionLevel != nil, policy.FieldPermission, deref(update.PermissionLevel)},
	}

	changed := false
	for _, check := range checks {
		if !check.set {
			continue
		}
		d := policy.CanUpdateMember(operatorId, userId, operator, target, check.field, check.newLevel)
		if !d.Allowed() {
			return c.logDenied(EventUpdateMember, operatorId, userId, d), nil
		}
		changed = true
	}

	if !changed {
		return policy.Decision{}, newValidationError(EventUpdateMember, "no fields to update")
	}

	if update.Nickname != nil {
		params.Nickname = *update.Nickname
	}
	if update.IsBlocked != nil {
		params.IsBlocked = *update.IsBlocked
	}
	if update.PermissionLevel != nil {
		params.PermissionLevel = *update.PermissionLevel
	}

	updated, err := c.db.UpdateMember(ctx, params)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("update member: %w", err)
	}

	c.rooms.EmitTo(ServerGroup(serverId), EventServerMemberUpdate, toMember(updated))

	user, err := c.getUser(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	if user.CurrentServerId != serverId {
		return allowed(), nil
	}

	connId, err := c.connOf(ctx, userId)
	if err != nil {
		return policy.Decision{}, err
	}

	if policy.IsBlocked(updated.IsBlocked, c.now()) {
		c.log.Printf("user %q blocked %q in server %q", operatorId, userId, serverId)
		return allowed(), c.leaveServer(ctx, connId, &user, operatorId)
	}

	switch wasManager, isManager := policy.IsManager(target.PermissionLevel), policy.IsManager(updated.PermissionLevel); {
	case isManager && !wasManager:
		c.joinGroup(connId, ServerManagerGroup(serverId))
	case wasManager && !isManager:
		c.leaveGroup(connId, ServerManagerGroup(serverId))
	}

	c.rooms.EmitTo(ServerGroup(serverId), EventServerOnlineMemberUpdate, onlineMember(user, updated))

	return allowed(), nil
}

// UpdateServer applies the non-nil fields of update to serverId. It takes
// the operator's lock so the issuer check holds for the whole update.
func (c *Coordinator) UpdateServer(ctx context.Context, operatorId, serverId string, update ServerUpdate) (policy.Decision, error) {
	unlock := c.locks.lock(operatorId)
	defer unlock()

	if err := c.checkIssuer(ctx, operatorId); err != nil {
		return policy.Decision{}, err
	}

	server, err := c.getServer(ctx, serverId)
	if err != nil {
		return policy.Decision{}, err
	}

	operator, err := c.getMember(ctx, operatorId, serverId)
	if err != nil {
		return policy.Decision{}, err
	}

	params := database.UpdateServerParams{
		ServerId:         serverId,
		Name:             server.Name,
		Visibility:       server.Visibility,
		LobbyId:          server.LobbyId,
		ReceptionLobbyId: server.ReceptionLobbyId,
	}

	changed := false
	apply := func(field policy.Field, value *string, dst *string) (policy.Decision, bool) {
		if value == nil {
			return allowed(), true
		}
		d := policy.CanManageServer(operator, field)
		if !d.Allowed() {
			return d, false
		}
		*dst = *value
		changed = true
		return d, true
	}

	for _, f := range []struct {
		field policy.Field
		value *string
		dst   *string
	}{
		{policy.FieldServerName, update.Name, &params.Name},
		{policy.FieldServerVisibility, update.Visibility, &params.Visibility},
		{policy.FieldServerLobby, update.LobbyId, &params.LobbyId},
		{policy.FieldServerLobby, update.ReceptionLobbyId, &params.ReceptionLobbyId},
	} {
		if d, ok := apply(f.field, f.value, f.dst); !ok {
			return c.logDenied(EventUpdateServer, operatorId, serverId, d), nil
		}
	}

	if !changed {
		return policy.Decision{}, newValidationError(EventUpdateServer, "no fields to update")
	}

	if params.LobbyId == "" {
		return policy.Decision{}, newValidationError(EventUpdateServer, "lobbyId cannot be empty")
	}

	for _, id := range []string{params.LobbyId, params.ReceptionLobbyId} {
		if id == "" {
			continue
		}
		channel, err := c.getChannel(ctx, id)
		if err != nil {
			return policy.Decision{}, err
		}
		if channel.ServerId != serverId {
			return c.logDenied(EventUpdateServer, operatorId, serverId, denied(policy.ReasonChannelNotInServer)), nil
		}
	}

	updated, err := c.db.UpdateServer(ctx, params)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("update server: %w", err)
	}

	c.rooms.EmitTo(ServerGroup(serverId), EventServerUpdate, toServer(updated))

	return allowed(), nil
}

// connectServer is the server entry transition shared by ConnectUser,
// ConnectServer and ConnectChannel. On success it returns the follow-up that
// places the user in a channel.
func (c *Coordinator) connectServer(ctx context.Context, connId string, u *database.User, serverId string) (policy.Decision, []followUp, error) {
	server, err := c.getServer(ctx, serverId)
	if err != nil {
		return policy.Decision{}, nil, err
	}

	member, err := c.getMember(ctx, u.Id, serverId)
	if err != nil {
		return policy.Decision{}, nil, err
	}

	d := policy.CanConnectToServer(member, server, c.now())
	switch d.Outcome {
	case policy.NeedsApplication:
		c.emitToConn(connId, EventOpenPopup, types.Popup{Type: PopupApplyMember, InitialData: toServer(server)})
		return d, nil, nil
	case policy.Blocked:
		dialog := errorDialog{ServerId: serverId, Message: d.Reason}
		if !d.Until.IsZero() {
			until := d.Until
			dialog.Until = &until
		}
		c.emitToConn(connId, EventOpenPopup, types.Popup{Type: PopupDialogError, InitialData: dialog})
		return d, nil, nil
	case policy.Deny:
		return d, nil, nil
	}

	if u.CurrentServerId != "" && u.CurrentServerId != serverId {
		if err := c.leaveServer(ctx, connId, u, ""); err != nil {
			return policy.Decision{}, nil, err
		}
	}

	if member == nil || member.PermissionLevel == policy.LevelNone {
		m, err := c.ensureMember(ctx, u.Id, server, member)
		if err != nil {
			return policy.Decision{}, nil, err
		}
		member = &m
	}

	channelId := ""
	if u.CurrentServerId == serverId && u.CurrentChannelId != "" {
		kept, err := c.channelOfServer(ctx, u.CurrentChannelId, serverId)
		if err != nil {
			return policy.Decision{}, nil, err
		}
		if kept {
			channelId = u.CurrentChannelId
		} else {
			c.log.Printf("warn: channel %q of user %q is not in server %q, dropping it", u.CurrentChannelId, u.Id, serverId)
			c.leaveGroup(connId, ChannelGroup(u.CurrentChannelId))
		}
	}

	if err := c.setLocation(ctx, u, serverId, channelId); err != nil {
		return policy.Decision{}, nil, err
	}

	if err := c.db.UpsertUserServer(ctx, database.UserServerParams{
		UserId:    u.Id,
		ServerId:  serverId,
		Recent:    true,
		Timestamp: c.now(),
	}); err != nil {
		return policy.Decision{}, nil, fmt.Errorf("record recent server: %w", err)
	}

	channels, err := c.db.ListServerChannels(ctx, serverId)
	if err != nil {
		return policy.Decision{}, nil, fmt.Errorf("list channels: %w", err)
	}

	online, err := c.db.ListOnlineMembers(ctx, serverId)
	if err != nil {
		return policy.Decision{}, nil, fmt.Errorf("list online members: %w", err)
	}

	c.joinGroup(connId, ServerGroup(serverId))
	if policy.IsManager(member.PermissionLevel) {
		c.joinGroup(connId, ServerManagerGroup(serverId))
	}

	c.emitToConn(connId, EventUserUpdate, toUser(*u))
	c.emitToConn(connId, EventServerUpdate, toServer(server))
	c.emitToConn(connId, EventServerChannelsSet, toChannels(channels))
	c.emitToConn(connId, EventServerOnlineMembersSet, toOnlineMembers(serverId, online))
	c.rooms.EmitTo(ServerGroup(serverId), EventServerOnlineMemberAdd, onlineMember(*u, *member))

	return d, []followUp{joinChannelFollowUp{
		userId:     u.Id,
		serverId:   serverId,
		candidates: []string{channelId, server.ReceptionLobbyId, server.LobbyId},
	}}, nil
}

// ensureMember creates the membership on first entry, or lifts a level 0
// row to guest. The server owner starts at owner level.
func (c *Coordinator) ensureMember(ctx context.Context, userId string, server database.Server, existing *database.Member) (database.Member, error) {
	level := policy.LevelGuest
	if server.OwnerId == userId {
		level = policy.LevelOwner
	}

	if existing != nil {
		m, err := c.db.UpdateMember(ctx, database.UpdateMemberParams{
			UserId:          userId,
			ServerId:        server.Id,
			Nickname:        existing.Nickname,
			PermissionLevel: level,
			IsBlocked:       existing.IsBlocked,
		})
		if err != nil {
			return m, fmt.Errorf("update member: %w", err)
		}
		return m, nil
	}

	m, err := c.db.CreateMember(ctx, database.CreateMemberParams{
		UserId:          userId,
		ServerId:        server.Id,
		PermissionLevel: level,
	})
	if err != nil {
		return m, fmt.Errorf("create member: %w", err)
	}

	return m, nil
}

// joinChannel moves a user already located in channel's server into it.
// Rejoining the current channel only restores the group and skips the
// password check.
func (c *Coordinator) joinChannel(ctx context.Context, connId string, u *database.User, member *database.Member, channel database.Channel, password string) (policy.Decision, error) {
	if channel.ServerId != u.CurrentServerId {
		return denied(policy.ReasonChannelNotInServer), nil
	}

	if u.CurrentChannelId == channel.Id {
		c.joinGroup(connId, ChannelGroup(channel.Id))
		c.emitToConn(connId, EventUserUpdate, toUser(*u))
		return allowed(), nil
	}

	if d := policy.CanJoinChannel(member, channel); !d.Allowed() {
		return d, nil
	}

	if policy.ChannelNeedsPassword(member, channel) &&
		bcrypt.CompareHashAndPassword([]byte(channel.PasswordHash), []byte(password)) != nil {
		return denied(policy.ReasonWrongPassword), nil
	}

	previous := u.CurrentChannelId
	if err := c.setLocation(ctx, u, u.CurrentServerId, channel.Id); err != nil {
		return policy.Decision{}, err
	}

	if previous != "" {
		c.leaveGroup(connId, ChannelGroup(previous))
	}
	c.joinGroup(connId, ChannelGroup(channel.Id))

	c.emitToConn(connId, EventUserUpdate, toUser(*u))
	if member != nil {
		c.rooms.EmitTo(ServerGroup(u.CurrentServerId), EventServerOnlineMemberUpdate, onlineMember(*u, *member))
	}

	return allowed(), nil
}

func (c *Coordinator) leaveChannel(ctx context.Context, connId string, u *database.User) error {
	channelId := u.CurrentChannelId
	if channelId == "" {
		return nil
	}

	if err := c.setLocation(ctx, u, u.CurrentServerId, ""); err != nil {
		return err
	}
	c.leaveGroup(connId, ChannelGroup(channelId))

	c.emitToConn(connId, EventUserUpdate, toUser(*u))

	if u.CurrentServerId == "" {
		return nil
	}

	member, err := c.getMember(ctx, u.Id, u.CurrentServerId)
	if err != nil {
		return err
	}
	if member != nil {
		c.rooms.EmitTo(ServerGroup(u.CurrentServerId), EventServerOnlineMemberUpdate, onlineMember(*u, *member))
	}

	return nil
}

// leaveServer leaves the current channel, then the current server. A
// non-empty kickedBy tells the user it was removed.
func (c *Coordinator) leaveServer(ctx context.Context, connId string, u *database.User, kickedBy string) error {
	serverId := u.CurrentServerId
	if serverId == "" {
		return nil
	}

	if err := c.leaveChannel(ctx, connId, u); err != nil {
		return err
	}

	if err := c.setLocation(ctx, u, "", ""); err != nil {
		return err
	}
	c.leaveGroup(connId, ServerGroup(serverId))
	c.leaveGroup(connId, ServerManagerGroup(serverId))

	c.rooms.EmitTo(ServerGroup(serverId), EventServerOnlineMemberDelete, memberRemoved{UserId: u.Id, ServerId: serverId})

	c.emitToConn(connId, EventUserUpdate, toUser(*u))
	c.emitToConn(connId, EventServerChannelsSet, []types.Channel{})
	c.emitToConn(connId, EventServerOnlineMembersSet, []types.OnlineMember{})

	if kickedBy != "" {
		dialog := kickedDialog{ServerId: serverId}
		if server, err := c.db.GetServer(ctx, serverId); err == nil {
			dialog.ServerName = server.Name
		}
		c.emitToConn(connId, EventOpenPopup, types.Popup{Type: PopupDialogKicked, InitialData: dialog})
	}

	return nil
}

func (c *Coordinator) runFollowUps(ctx context.Context, connId string, steps []followUp) error {
	for _, step := range steps {
		switch s := step.(type) {
		case joinChannelFollowUp:
			if err := c.joinFirstAvailable(ctx, connId, s); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown follow-up %T", step)
		}
	}

	return nil
}

func (c *Coordinator) joinFirstAvailable(ctx context.Context, connId string, f joinChannelFollowUp) error {
	user, err := c.getUser(ctx, f.userId)
	if err != nil {
		return err
	}

	if user.CurrentServerId != f.serverId {
		return nil
	}

	member, err := c.getMember(ctx, f.userId, f.serverId)
	if err != nil {
		return err
	}

	tried := make(map[string]struct{}, len(f.candidates))
	for _, id := range f.candidates {
		if _, ok := tried[id]; ok || id == "" {
			continue
		}
		tried[id] = struct{}{}

		channel, err := c.getChannel(ctx, id)
		if isNotFound(err) {
			c.log.Printf("channel %q of server %q not found", id, f.serverId)
			continue
		}
		if err != nil {
			return err
		}

		d, err := c.joinChannel(ctx, connId, &user, member, channel, "")
		if err != nil {
			return err
		}
		if d.Allowed() {
			return nil
		}
	}

	// routing never parks a user in a server without a channel
	c.log.Printf("warn: no channel of server %q is open to user %q, leaving it", f.serverId, f.userId)
	c.emitToConn(connId, EventOpenPopup, types.Popup{
		Type:        PopupDialogError,
		InitialData: errorDialog{ServerId: f.serverId, Message: policy.ReasonNoOpenChannel},
	})

	return c.leaveServer(ctx, connId, &user, "")
}

func (c *Coordinator) setLocation(ctx context.Context, u *database.User, serverId, channelId string) error {
	now := c.now()
	if err := c.db.UpdateUserLocation(ctx, database.UpdateLocationParams{
		UserId:           u.Id,
		CurrentServerId:  serverId,
		CurrentChannelId: channelId,
		LastActiveAt:     now,
	}); err != nil {
		return fmt.Errorf("update location of user %q: %w", u.Id, err)
	}

	u.CurrentServerId = serverId
	u.CurrentChannelId = channelId
	u.LastActiveAt = now

	return nil
}

func (c *Coordinator) connOf(ctx context.Context, userId string) (string, error) {
	connId, ok, err := c.sessions.Lookup(ctx, userId)
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		return "", nil
	}
	return connId, nil
}

func (c *Coordinator) getUser(ctx context.Context, userId string) (database.User, error) {
	u, err := c.db.GetUser(ctx, userId)
	if errors.Is(err, sql.ErrNoRows) {
		return u, newNotFoundError("user")
	}
	if err != nil {
		return u, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (c *Coordinator) getServer(ctx context.Context, serverId string) (database.Server, error) {
	s, err := c.db.GetServer(ctx, serverId)
	if errors.Is(err, sql.ErrNoRows) {
		return s, newNotFoundError("server")
	}
	if err != nil {
		return s, fmt.Errorf("get server: %w", err)
	}
	return s, nil
}

func (c *Coordinator) getChannel(ctx context.Context, channelId string) (database.Channel, error) {
	ch, err := c.db.GetChannel(ctx, channelId)
	if errors.Is(err, sql.ErrNoRows) {
		return ch, newNotFoundError("channel")
	}
	if err != nil {
		return ch, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

// channelOfServer reports whether channelId exists and belongs to serverId.
func (c *Coordinator) channelOfServer(ctx context.Context, channelId, serverId string) (bool, error) {
	channel, err := c.getChannel(ctx, channelId)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return channel.ServerId == serverId, nil
}

// getMember returns nil when the user never joined the server.
func (c *Coordinator) getMember(ctx context.Context, userId, serverId string) (*database.Member, error) {
	m, err := c.db.GetMember(ctx, userId, serverId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (c *Coordinator) getMembers(ctx context.Context, operatorId, userId, serverId string) (*database.Member, *database.Member, error) {
	operator, err := c.getMember(ctx, operatorId, serverId)
	if err != nil {
		return nil, nil, err
	}

	target, err := c.getMember(ctx, userId, serverId)
	if err != nil {
		return nil, nil, err
	}

	return operator, target, nil
}

func (c *Coordinator) joinGroup(connId, group string) {
	if connId != "" {
		c.rooms.JoinGroup(connId, group)
	}
}

func (c *Coordinator) leaveGroup(connId, group string) {
	if connId != "" {
		c.rooms.LeaveGroup(connId, group)
	}
}

func (c *Coordinator) emitToConn(connId, event string, data any) {
	if connId != "" {
		c.rooms.EmitToConnection(connId, event, data)
	}
}

func (c *Coordinator) logDenied(event, operatorId, targetId string, d policy.Decision) policy.Decision {
	c.log.Printf("warn: %s by %q on %q: %s: %s", event, operatorId, targetId, d.Outcome, d.Reason)
	return d
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
