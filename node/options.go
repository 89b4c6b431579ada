package node

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"invsync/models"
	"invsync/storage"
)

const (
	// DefaultNannyInterval is the period of the liveness tick.
	DefaultNannyInterval = 1000 * time.Millisecond
	// DefaultLivenessTimeout is how long a host tolerates a silent guest.
	DefaultLivenessTimeout = 10 * time.Second
	// DefaultAwaitTimeout bounds Remote.Await and Remote.Request.
	DefaultAwaitTimeout = 10 * time.Second
)

// Role is the side of the protocol a node plays.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// UI is the application surface driven by activity side effects.
type UI interface {
	Alert(message string)
	// PromptName asks the user for a display name.
	PromptName() (string, error)
	GiftReceived(from string, item models.Item)
	GiftDelivered(target string)
	GiftFailed(target string)
	ConnectionLost(reason string)
}

// MessageFunc handles one inbound message.
type MessageFunc func(n *Node, r *Remote, msgType string, payload json.RawMessage) (bool, error)

// Options configures a node.
type Options struct {
	Role       Role
	Activities []Activity

	Store  *storage.Store
	UI     UI
	Logger *zap.Logger
	Clock  clockwork.Clock

	NannyInterval   time.Duration
	LivenessTimeout time.Duration
	AwaitTimeout    time.Duration

	// Fallback runs when no activity handled a message.
	Fallback MessageFunc
	// Unknown runs when neither the activities nor Fallback handled a message.
	Unknown func(n *Node, r *Remote, msgType string, payload json.RawMessage)
}

func (o Options) withDefaults() (Options, error) {
	out := o
	if out.Role != RoleHost && out.Role != RoleGuest {
		return Options{}, errors.New("role must be host or guest")
	}
	if out.UI == nil {
		out.UI = nopUI{}
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	if out.NannyInterval <= 0 {
		out.NannyInterval = DefaultNannyInterval
	}
	if out.LivenessTimeout <= 0 {
		out.LivenessTimeout = DefaultLivenessTimeout
	}
	if out.AwaitTimeout <= 0 {
		out.AwaitTimeout = DefaultAwaitTimeout
	}
	out.Activities = append([]Activity(nil), o.Activities...)
	return out, nil
}

type nopUI struct{}

func (nopUI) Alert(string)                     {}
func (nopUI) PromptName() (string, error)      { return "", errors.New("no UI to prompt for a name") }
func (nopUI) GiftReceived(string, models.Item) {}
func (nopUI) GiftDelivered(string)             {}
func (nopUI) GiftFailed(string)                {}
func (nopUI) ConnectionLost(string)            {}
