package flow

import (
	"github.com/wolfeidau/authdemo/internal/provider"
)

const (
	shortIDLength = 8
	dateLayout    = "2006-01-02"
	notAvailable  = "N/A"
)

// Welcome is the account summary shown on the landing page.
type Welcome struct {
	UserID     string
	Email      string
	ShortID    string
	LastSignIn string
	Providers  []string
}

func NewWelcome(user *provider.User) Welcome {
	w := Welcome{
		UserID:     user.ID,
		Email:      user.Email,
		ShortID:    ShortID(user.ID),
		LastSignIn: notAvailable,
	}

	if user.LastSignInAt != nil && !user.LastSignInAt.IsZero() {
		w.LastSignIn = user.LastSignInAt.Format(dateLayout)
	}

	for _, identity := range user.Identities {
		w.Providers = append(w.Providers, identity.Provider)
	}

	return w
}

// ShortID truncates an identifier for display.
func ShortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength] + "..."
}
