package models

// Profile bundles inventories and albums under a display name.
type Profile struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	InventoryIDs []string `json:"inventory_ids"`
	AlbumIDs     []string `json:"album_ids"`
}

// ProfileSnapshot is the fully serializable export of a profile.
type ProfileSnapshot struct {
	Profile     Profile     `json:"profile"`
	Inventories []Inventory `json:"inventories"`
	Albums      []Album     `json:"albums"`
}

// ProfileEntry is one row of the advisory profile map sent to guests.
type ProfileEntry struct {
	DisplayName string `json:"displayName"`
	Locked      bool   `json:"locked"`
}
