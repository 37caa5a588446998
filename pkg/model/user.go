package model

// User is the identity record resolved at handshake. Credentials never leave
// the identity store.
type User struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// DisplayName is the name stamped on messages and memberships.
func (u User) DisplayName() string {
	return u.FirstName
}
