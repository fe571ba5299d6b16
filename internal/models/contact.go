package models

// Contact is a derived, read-only projection of another known user:
// who they are, whether they currently hold a live connection, and how
// many unread messages they have sent the caller. It is never stored.
type Contact struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Online   bool   `json:"online"`
	Unread   int    `json:"unread"`
}
