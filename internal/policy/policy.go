// Package policy holds the permission decisions for presence transitions and
// member/server management. Every function is pure: the result depends only
// on the arguments, so callers pass in the clock and the relevant locations.
package policy

import (
	"time"

	"github.com/npezzotti/go-voicechat/internal/database"
)

// Permission levels of a member within a server.
const (
	LevelNone          = 0
	LevelGuest         = 1
	LevelMember        = 2
	LevelChannelAdmin  = 3
	LevelCategoryAdmin = 4
	LevelAdmin         = 5
	LevelOwner         = 6
)

const (
	ServerPublic    = "public"
	ServerPrivate   = "private"
	ServerInvisible = "invisible"

	ChannelPublic   = "public"
	ChannelMember   = "member"
	ChannelPrivate  = "private"
	ChannelReadonly = "readonly"
)

const (
	ReasonHigherOrEqual      = "Target has higher or equal permission"
	ReasonInsufficient       = "Insufficient permission"
	ReasonNotInServer        = "Target is not in the server"
	ReasonNotInChannel       = "Target is not in the channel"
	ReasonMoveOther          = "Cannot move other user"
	ReasonBlocked            = "You are blocked from this server"
	ReasonMembersOnly        = "Channel is for members only"
	ReasonReadonly           = "Channel is read only"
	ReasonWrongPassword      = "Wrong channel password"
	ReasonSelfUpdate         = "Cannot change your own permission or block status"
	ReasonInvalidLevel       = "Invalid permission level"
	ReasonNeedsApplication   = "Server requires membership"
	ReasonChannelNotInServer = "Channel does not belong to the server"
	ReasonNoOpenChannel      = "No channel of the server is open to you"
)

type Outcome int

const (
	Allow Outcome = iota
	NeedsApplication
	Blocked
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case NeedsApplication:
		return "needsApplication"
	case Blocked:
		return "blocked"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision is the result of a policy check. Until is set only for temporary
// blocks.
type Decision struct {
	Outcome Outcome
	Reason  string
	Until   time.Time
}

func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

func allow() Decision {
	return Decision{Outcome: Allow}
}

func deny(reason string) Decision {
	return Decision{Outcome: Deny, Reason: reason}
}

// Field identifies which part of a member or server an update touches.
type Field string

const (
	FieldNickname   Field = "nickname"
	FieldBlock      Field = "isBlocked"
	FieldPermission Field = "permissionLevel"

	FieldServerName       Field = "name"
	FieldServerVisibility Field = "visibility"
	FieldServerLobby      Field = "lobbyId"
)

// IsBlocked reports whether a block value is in force at now. Expired
// temporary blocks count as not blocked.
func IsBlocked(isBlocked int64, now time.Time) bool {
	return isBlocked == -1 || isBlocked > now.UnixMilli()
}

func level(m *database.Member) int {
	if m == nil {
		return LevelNone
	}
	return m.PermissionLevel
}

// CanConnectToServer decides whether a membership (nil when the user never
// joined) may enter server.
func CanConnectToServer(member *database.Member, server database.Server, now time.Time) Decision {
	if member != nil && IsBlocked(member.IsBlocked, now) {
		d := Decision{Outcome: Blocked, Reason: ReasonBlocked}
		if member.IsBlocked > 0 {
			d.Until = time.UnixMilli(member.IsBlocked).UTC()
		}
		return d
	}

	if server.Visibility == ServerInvisible && level(member) < LevelMember {
		return Decision{Outcome: NeedsApplication, Reason: ReasonNeedsApplication}
	}

	return allow()
}

// CanDisconnectOther decides whether an operator may remove target from
// serverId. targetServerId is the target's current server.
func CanDisconnectOther(operator, target *database.Member, targetServerId, serverId string) Decision {
	if targetServerId != serverId {
		return deny(ReasonNotInServer)
	}
	if level(operator) < LevelAdmin {
		return deny(ReasonInsufficient)
	}
	if level(operator) <= level(target) {
		return deny(ReasonHigherOrEqual)
	}

	return allow()
}

// CanLeaveChannel decides whether operatorId may remove userId from
// channelId. The target's current location must match the request.
func CanLeaveChannel(operatorId, userId string, operator, target *database.Member, targetServerId, targetChannelId, serverId, channelId string) Decision {
	if targetServerId != serverId {
		return deny(ReasonNotInServer)
	}
	if targetChannelId != channelId {
		return deny(ReasonNotInChannel)
	}
	if operatorId == userId {
		return allow()
	}
	if level(operator) < LevelChannelAdmin {
		return deny(ReasonInsufficient)
	}
	if level(operator) <= level(target) {
		return deny(ReasonHigherOrEqual)
	}

	return allow()
}

// CanJoinChannel checks the channel visibility against the membership.
func CanJoinChannel(member *database.Member, channel database.Channel) Decision {
	switch channel.Visibility {
	case ChannelMember:
		if level(member) < LevelMember {
			return deny(ReasonMembersOnly)
		}
	case ChannelReadonly:
		if level(member) < LevelChannelAdmin {
			return deny(ReasonReadonly)
		}
	}

	return allow()
}

// ChannelNeedsPassword reports whether entering channel requires the caller
// to present its password. Channel staff bypass passwords.
func ChannelNeedsPassword(member *database.Member, channel database.Channel) bool {
	return channel.PasswordHash != "" && level(member) < LevelChannelAdmin
}

// CanUpdateMember decides whether operatorId may change field of userId's
// membership. newLevel is only consulted for FieldPermission.
func CanUpdateMember(operatorId, userId string, operator, target *database.Member, field Field, newLevel int) Decision {
	self := operatorId == userId

	switch field {
	case FieldNickname:
		if self {
			return allow()
		}
		if level(operator) < LevelChannelAdmin {
			return deny(ReasonInsufficient)
		}
	case FieldBlock:
		if self {
			return deny(ReasonSelfUpdate)
		}
		if level(operator) < LevelCategoryAdmin {
			return deny(ReasonInsufficient)
		}
	case FieldPermission:
		if self {
			return deny(ReasonSelfUpdate)
		}
		if level(operator) < LevelAdmin {
			return deny(ReasonInsufficient)
		}
		if newLevel < LevelGuest || newLevel >= level(operator) || newLevel > LevelAdmin {
			return deny(ReasonInvalidLevel)
		}
	default:
		return deny(ReasonInsufficient)
	}

	if level(operator) <= level(target) {
		return deny(ReasonHigherOrEqual)
	}

	return allow()
}

// CanManageServer decides whether an operator may change a server setting.
func CanManageServer(operator *database.Member, field Field) Decision {
	switch field {
	case FieldServerName, FieldServerVisibility, FieldServerLobby:
		if level(operator) < LevelAdmin {
			return deny(ReasonInsufficient)
		}
		return allow()
	default:
		return deny(ReasonInsufficient)
	}
}

// IsManager reports whether a level receives server management broadcasts.
func IsManager(permissionLevel int) bool {
	return permissionLevel >= LevelAdmin
}
