// Package access resolves per-room permissions and drives the membership state machine.
// Nothing here performs I/O; callers load the rows and act on the answers.
package access

import "github.com/chirino/chat-service/internal/model"

// Capability is a single permission that can be granted or denied in a room.
type Capability string

const (
	SendMessages   Capability = "send-messages"
	SendPhotos     Capability = "send-photos"
	SendVideos     Capability = "send-videos"
	SendStickers   Capability = "send-stickers"
	SendMusic      Capability = "send-music"
	SendFiles      Capability = "send-files"
	InviteUsers    Capability = "invite-users"
	PinMessages    Capability = "pin-messages"
	CustomizeRoom  Capability = "customize-room"
	DeleteMessages Capability = "delete-messages"
	BanUsers       Capability = "ban-users"
	PromoteMembers Capability = "promote-members"
)

// Capabilities lists every capability in a stable order.
var Capabilities = []Capability{
	SendMessages, SendPhotos, SendVideos, SendStickers, SendMusic, SendFiles,
	InviteUsers, PinMessages, CustomizeRoom,
	DeleteMessages, BanUsers, PromoteMembers,
}

// ParseCapability maps a wire name back to a Capability.
func ParseCapability(s string) (Capability, bool) {
	for _, c := range Capabilities {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// AdminOnly reports whether c skips room and type defaults entirely.
func (c Capability) AdminOnly() bool {
	switch c {
	case DeleteMessages, BanUsers, PromoteMembers:
		return true
	}
	return false
}

// Flag returns the flag for c in f, or nil when unset.
func Flag(f *model.PermissionFlags, c Capability) *bool {
	if f == nil {
		return nil
	}
	if p := flagField(f, c); p != nil {
		return *p
	}
	return nil
}

// SetFlag sets (or clears, with nil) the flag for c in f.
func SetFlag(f *model.PermissionFlags, c Capability, v *bool) {
	if p := flagField(f, c); p != nil {
		*p = v
	}
}

func flagField(f *model.PermissionFlags, c Capability) **bool {
	switch c {
	case SendMessages:
		return &f.SendMessages
	case SendPhotos:
		return &f.SendPhotos
	case SendVideos:
		return &f.SendVideos
	case SendStickers:
		return &f.SendStickers
	case SendMusic:
		return &f.SendMusic
	case SendFiles:
		return &f.SendFiles
	case InviteUsers:
		return &f.InviteUsers
	case PinMessages:
		return &f.PinMessages
	case CustomizeRoom:
		return &f.CustomizeRoom
	case DeleteMessages:
		return &f.DeleteMessages
	case BanUsers:
		return &f.BanUsers
	case PromoteMembers:
		return &f.PromoteMembers
	}
	return nil
}

// RequiredFor lists the capabilities a sender needs to post a message of type t.
func RequiredFor(t model.MessageType) []Capability {
	switch t {
	case model.MessagePhoto:
		return []Capability{SendMessages, SendPhotos}
	case model.MessageVideo:
		return []Capability{SendMessages, SendVideos}
	case model.MessageSticker:
		return []Capability{SendMessages, SendStickers}
	case model.MessageMusic:
		return []Capability{SendMessages, SendMusic}
	case model.MessageFile:
		return []Capability{SendMessages, SendFiles}
	default:
		return []Capability{SendMessages}
	}
}
