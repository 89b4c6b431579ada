package activities

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"invsync/node"
)

// selfName is the guest's own normalized name.
var selfName = node.NewNodeSlot[string]("handshake.self")

func guestHandshake() node.Activity {
	return node.Activity{
		Name: "handshake",
		RemoteConnected: func(n *node.Node, r *node.Remote) error {
			if name, ok := selfName.Get(n); ok {
				return r.Send(TypeName, name)
			}
			// Prompting waits on the user, so it runs off the node loop.
			go promptName(n, r)
			return nil
		},
	}
}

// promptName asks until the user gives a usable name and then identifies
// to the host. A failed prompt drops the connection.
func promptName(n *node.Node, r *node.Remote) {
	for {
		raw, err := n.UI().PromptName()
		if err != nil {
			r.Logger().Warn("name prompt failed", zap.Error(err))
			_ = n.Do(func(n *node.Node) error {
				if r.Closed() {
					return nil
				}
				return n.Close(r)
			})
			return
		}
		name := NormalizeName(raw)
		if name == "" {
			n.UI().Alert("Please enter a name.")
			continue
		}
		err = n.Do(func(n *node.Node) error {
			if r.Closed() {
				return node.ErrRemoteClosed
			}
			selfName.Set(n, name)
			return r.Send(TypeName, name)
		})
		if err != nil {
			r.Logger().Debug("name not sent", zap.Error(err))
		}
		return
	}
}

// SetName records the name a guest identifies with on its next connection,
// so no prompt is needed while connecting.
func SetName(n *node.Node, raw string) error {
	name := NormalizeName(raw)
	if name == "" {
		return ErrInvalidName
	}
	return n.Do(func(n *node.Node) error {
		selfName.Set(n, name)
		return nil
	})
}

func hostHandshake() node.Activity {
	return node.Activity{
		Name: "handshake",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			if msgType != TypeName {
				return false, nil
			}
			var raw string
			if err := json.Unmarshal(payload, &raw); err != nil {
				return settle(r, msgType, r.Send(TypeError, "name must be a string"))
			}
			name := NormalizeName(raw)
			if name == "" {
				return settle(r, msgType, r.Send(TypeError, "name must not be empty"))
			}
			if other := n.FindByName(name); other != nil && other != r {
				return settle(r, msgType, r.Send(TypeError, fmt.Sprintf("name %q is already in use", name)))
			}

			r.Identify(name)
			r.Heartbeat(n.Now())
			r.Logger().Info("player identified")
			return settle(r, msgType, pushPlayerReset(n, r))
		},
		Nanny: func(n *node.Node, r *node.Remote, now time.Time) error {
			last, ok := r.LastHeartbeat()
			if !ok || now.Sub(last) <= n.LivenessTimeout() {
				return nil
			}
			r.Logger().Warn("evicting silent player", zap.Duration("silence", now.Sub(last)))
			return n.Close(r)
		},
	}
}

// Self returns the guest's own player name once the handshake was sent.
func Self(n *node.Node) (string, bool) {
	return selfName.Get(n)
}
