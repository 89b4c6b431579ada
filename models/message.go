package models

import "encoding/json"

// GiftMessage carries one item from a sender to a target player.
// From is empty when the host itself is the sender.
type GiftMessage struct {
	From   string `json:"from,omitempty"`
	Target string `json:"target"`
	Item   Item   `json:"item"`
}

// GiftAck acknowledges (or rejects) a gift.
type GiftAck struct {
	From   string `json:"from,omitempty"`
	Target string `json:"target"`
}

// SelectResponse answers a profile claim request.
type SelectResponse struct {
	Result bool            `json:"result"`
	Data   json.RawMessage `json:"data,omitempty"`
}
