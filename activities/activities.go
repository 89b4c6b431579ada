// Package activities implements the protocol concerns a node is built
// from: errors, handshake, player roster, player data sync, gifts and
// profile ownership.
package activities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"invsync/node"
)

// Message types on the wire.
const (
	TypeName                  = "name"
	TypeError                 = "error"
	TypeReset                 = "reset"
	TypeSync                  = "sync"
	TypeProfileMap            = "profileMap"
	TypeProfileSelect         = "profileSelect"
	TypeProfileSelectResponse = "profileSelectResponse"
	TypeProfileSync           = "profileSync"
	TypeProfileReset          = "profileReset"
	TypeProfileRelease        = "profileRelease"
	TypeClients               = "clients"
	TypeGift                  = "gift"
	TypeGiftAck               = "giftack"
	TypeGiftNak               = "giftnak"
)

const (
	// MaxNameLength caps a normalized player name, in runes.
	MaxNameLength = 64
	// GroundInventoryName names the inventory gifts land in.
	GroundInventoryName = "ground"
)

var (
	ErrInvalidName    = errors.New("activities: invalid player name")
	ErrProfileLocked  = errors.New("activities: profile is claimed by another player")
	ErrNotConnected   = errors.New("activities: not connected to a host")
	ErrNotIdentified  = errors.New("activities: handshake not complete")
	ErrUnknownPlayer  = errors.New("activities: unknown player")
	ErrNoPlayerData   = errors.New("activities: player data not received")
	ErrNoStore        = errors.New("activities: node has no store")
	ErrProfileUnowned = errors.New("activities: profile is not claimed")
)

// Host returns the host-side activity registry in dispatch order.
func Host() []node.Activity {
	return []node.Activity{
		hostError(),
		hostHandshake(),
		hostPlayerList(),
		hostPlayerInventory(),
		hostPlayerGift(),
		hostProfileMap(),
		hostProfileSelect(),
		hostProfileSync(),
		hostProfileReset(),
	}
}

// Guest returns the guest-side activity registry in dispatch order.
func Guest() []node.Activity {
	return []node.Activity{
		guestError(),
		guestHandshake(),
		guestPlayerList(),
		guestPlayerInventory(),
		guestPlayerGift(),
		guestProfileMap(),
		guestProfileSelect(),
		guestProfileSync(),
		guestProfileReset(),
	}
}

// NewHost builds a host node over options with the host registry.
func NewHost(options node.Options) (*node.Node, error) {
	options.Role = node.RoleHost
	options.Activities = Host()
	options.Unknown = ReplyUnknown
	return node.New(options)
}

// NewGuest builds a guest node over options with the guest registry.
func NewGuest(options node.Options) (*node.Node, error) {
	options.Role = node.RoleGuest
	options.Activities = Guest()
	options.Unknown = nil
	return node.New(options)
}

// ReplyUnknown tells a guest that nothing on the host handled its message.
func ReplyUnknown(_ *node.Node, r *node.Remote, msgType string, _ json.RawMessage) {
	if err := r.Send(TypeError, fmt.Sprintf("unknown message type %q", msgType)); err != nil {
		r.Logger().Warn("reply to unknown message failed", zap.Error(err))
	}
}

// NormalizeName lowercases a display name, joins its words with
// underscores and truncates it to MaxNameLength runes.
func NormalizeName(name string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(name)), "_")
	if utf8.RuneCountInString(normalized) <= MaxNameLength {
		return normalized
	}
	runes := []rune(normalized)
	return string(runes[:MaxNameLength])
}

// settle finishes a message whose type the hook owns. A failure is logged
// here; returning it would let dispatch report a known type as unknown.
func settle(r *node.Remote, msgType string, err error) (bool, error) {
	if err != nil {
		r.Logger().Warn("message handling failed", zap.String("type", msgType), zap.Error(err))
	}
	return true, nil
}

// malformed rejects a known message whose payload does not decode. The
// host names the problem to the guest; a guest only logs.
func malformed(n *node.Node, r *node.Remote, msgType string, err error) (bool, error) {
	r.Logger().Warn("malformed message", zap.String("type", msgType), zap.Error(err))
	if n.Role() != node.RoleHost {
		return true, nil
	}
	return settle(r, TypeError, r.Send(TypeError, fmt.Sprintf("malformed %s message", msgType)))
}

func decode(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// hostRemote returns a guest node's connection to its host.
func hostRemote(n *node.Node) (*node.Remote, error) {
	remotes := n.Remotes()
	if len(remotes) == 0 {
		return nil, ErrNotConnected
	}
	return remotes[0], nil
}
