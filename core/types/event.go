package types

// Event represents a typed notification emitted during state transitions. The
// attribute map carries the campaign id, principals and amounts as strings so
// downstream indexers can consume events without domain imports.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
