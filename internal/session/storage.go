package session

// Storage is where a session client keeps the session and the PKCE code verifier.
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}
