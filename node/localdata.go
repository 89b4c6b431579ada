package node

import (
	"encoding/json"
	"maps"
)

// PlayerData returns the host's durable snapshot for name. Host only.
func (n *Node) PlayerData(name string) (json.RawMessage, bool) {
	data, ok := n.localData[name]
	return data, ok
}

// SetPlayerData replaces the host's durable snapshot for name.
func (n *Node) SetPlayerData(name string, snapshot json.RawMessage) {
	if n.localData == nil {
		return
	}
	n.localData[name] = append(json.RawMessage(nil), snapshot...)
}

// ExportLocalData copies the host's player data for persistence.
func (n *Node) ExportLocalData() map[string][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string][]byte, len(n.localData))
	for name, snapshot := range n.localData {
		out[name] = append([]byte(nil), snapshot...)
	}
	return out
}

// ImportLocalData merges previously persisted player data.
func (n *Node) ImportLocalData(data map[string][]byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.localData == nil {
		return
	}
	converted := make(map[string]json.RawMessage, len(data))
	for name, snapshot := range data {
		converted[name] = append(json.RawMessage(nil), snapshot...)
	}
	maps.Copy(n.localData, converted)
}
