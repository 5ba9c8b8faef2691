package models

// Notification is a one-way message to a user
type Notification struct {
	ID      string    `json:"id" db:"id"`
	UserID  string    `json:"userId" db:"user_id"`
	Message string    `json:"message" db:"message"`
	Date    Timestamp `json:"date" db:"date"`
	IsRead  bool      `json:"isRead" db:"is_read"`
}

// Clone returns a copy safe to mutate independently
func (n *Notification) Clone() *Notification {
	c := *n
	return &c
}
