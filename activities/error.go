package activities

import (
	"encoding/json"

	"go.uber.org/zap"

	"invsync/node"
)

// A guest treats any error from the host as fatal for the connection.
func guestError() node.Activity {
	return node.Activity{
		Name: "error",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			if msgType != TypeError {
				return false, nil
			}
			var notice string
			if err := json.Unmarshal(payload, &notice); err != nil {
				notice = string(payload)
			}
			r.Logger().Error("host reported an error", zap.String("notice", notice))
			n.UI().Alert(notice)
			return true, n.Close(r)
		},
		RemoteDisconnected: func(n *node.Node, r *node.Remote) error {
			n.UI().ConnectionLost("Connection to the host was lost. Restart the session to reconnect.")
			return nil
		},
	}
}

func hostError() node.Activity {
	return node.Activity{
		Name: "error",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			if msgType != TypeError {
				return false, nil
			}
			r.Logger().Warn("guest reported an error", zap.ByteString("notice", payload))
			return true, nil
		},
	}
}
