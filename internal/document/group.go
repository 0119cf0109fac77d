package document

import "fmt"

// DefaultGroupID is the reserved group every document falls back to.
// The default group always exists and cannot be deleted; deleting another
// group reassigns its documents here.
const DefaultGroupID = "default"

// DefaultGroupName is the display name of the reserved group.
const DefaultGroupName = "Uncategorized"

// Group is a user-defined document category.
type Group struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
	Color   string `json:"color,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Order   int    `json:"order"`
}

// Validate checks the group for storable field values.
func (g *Group) Validate() error {
	if g.GroupID == "" {
		return fmt.Errorf("groupId is required")
	}
	if g.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// DefaultGroup returns the reserved group record.
func DefaultGroup() *Group {
	return &Group{
		GroupID: DefaultGroupID,
		Name:    DefaultGroupName,
		Color:   "#4A90D9",
		Icon:    "folder",
	}
}
