package model

// Notification is the terminal message about one batch.
type Notification struct {
	IngestionID string
	State       string
	Text        string
}
