package access

import "github.com/chirino/chat-service/internal/model"

// typeDefaults is the last-resort answer for an ordinary member, keyed by room type.
// Admin-only capabilities never reach this table.
var typeDefaults = map[model.RoomType]map[Capability]bool{
	model.RoomTypeDirectMessage: {
		SendMessages: true, SendPhotos: true, SendVideos: true, SendStickers: true, SendMusic: true, SendFiles: true,
		InviteUsers: false, PinMessages: true, CustomizeRoom: false,
	},
	model.RoomTypePrivate: {
		SendMessages: true, SendPhotos: true, SendVideos: true, SendStickers: true, SendMusic: true, SendFiles: true,
		InviteUsers: false, PinMessages: false, CustomizeRoom: false,
	},
	model.RoomTypePublic: {
		SendMessages: true, SendPhotos: true, SendVideos: true, SendStickers: true, SendMusic: true, SendFiles: true,
		InviteUsers: true, PinMessages: false, CustomizeRoom: false,
	},
	model.RoomTypeChannel: {
		SendMessages: false, SendPhotos: false, SendVideos: false, SendStickers: false, SendMusic: false, SendFiles: false,
		InviteUsers: false, PinMessages: false, CustomizeRoom: false,
	},
}

// adminDefaults applies to an Admin with no override for an admin-only capability.
var adminDefaults = map[Capability]bool{
	DeleteMessages: true,
	BanUsers:       false,
	PromoteMembers: false,
}

// TypeDefault returns the hard-coded default of c for an ordinary member of a room of type t.
// Unknown combinations deny.
func TypeDefault(t model.RoomType, c Capability) bool {
	return typeDefaults[t][c]
}

// Subject is everything resolution depends on.
type Subject struct {
	Role         model.MemberRole
	Override     *model.PermissionFlags
	RoomDefaults model.PermissionFlags
	RoomType     model.RoomType
}

// SubjectFor builds a Subject from loaded rows. override may be nil.
func SubjectFor(room *model.ChatRoom, member *model.ChatRoomMember, override *model.MemberPermissionOverride) Subject {
	s := Subject{
		Role:         member.Role,
		RoomDefaults: room.Defaults,
		RoomType:     room.Type,
	}
	if override != nil {
		flags := override.Flags
		s.Override = &flags
	}
	return s
}

// Resolve answers whether s holds capability c.
//
// Admin-only capabilities: Owner always; Admin follows only their override,
// falling back to adminDefaults; Member never.
//
// Everything else, in order: privileged roles are allowed unless their override
// says otherwise; a member override wins; then the room default; then the type default.
func Resolve(s Subject, c Capability) bool {
	override := Flag(s.Override, c)

	if c.AdminOnly() {
		switch s.Role {
		case model.RoleOwner:
			return true
		case model.RoleAdmin:
			if override != nil {
				return *override
			}
			return adminDefaults[c]
		default:
			return false
		}
	}

	if s.Role.IsPrivileged() {
		if override != nil {
			return *override
		}
		return true
	}
	if override != nil {
		return *override
	}
	if d := Flag(&s.RoomDefaults, c); d != nil {
		return *d
	}
	return TypeDefault(s.RoomType, c)
}

// ResolveAll resolves every capability for s.
func ResolveAll(s Subject) map[Capability]bool {
	out := make(map[Capability]bool, len(Capabilities))
	for _, c := range Capabilities {
		out[c] = Resolve(s, c)
	}
	return out
}

// CanSend reports whether s may post a message of type t, returning the first missing capability.
func CanSend(s Subject, t model.MessageType) (Capability, bool) {
	for _, c := range RequiredFor(t) {
		if !Resolve(s, c) {
			return c, false
		}
	}
	return "", true
}

// Outranks reports whether role a may act on a member holding role b.
func Outranks(a, b model.MemberRole) bool {
	return rank(a) > rank(b)
}

func rank(r model.MemberRole) int {
	switch r {
	case model.RoleOwner:
		return 3
	case model.RoleAdmin:
		return 2
	case model.RoleMember:
		return 1
	}
	return 0
}
