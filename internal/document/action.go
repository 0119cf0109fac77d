package document

// Action is the kind of propagation intent carried by a sync change.
type Action string

const (
	// ActionUpsert creates or updates a document on the other replica.
	ActionUpsert Action = "upsert"
	// ActionDelete removes a document on the other replica.
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionUpsert || a == ActionDelete
}
