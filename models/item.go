package models

// Item is one stackable entry inside an inventory.
type Item struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Quantity    int               `json:"quantity"`
	Data        map[string]string `json:"data,omitempty"`
}

// Inventory is an ordered list of items.
type Inventory struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Album groups inventories for display.
type Album struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	InventoryIDs []string `json:"inventory_ids"`
}
