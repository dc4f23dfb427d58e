package provider

import (
	"time"

	"golang.org/x/oauth2"
)

// User is the account record returned by the identity provider.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Role             string         `json:"role,omitempty"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	ConfirmedAt      *time.Time     `json:"confirmed_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	Identities       []Identity     `json:"identities,omitempty"`
	IsAnonymous      bool           `json:"is_anonymous,omitempty"`
}

// Identity links a user to one sign-in method (email, google, ...).
type Identity struct {
	ID           string         `json:"id"`
	IdentityID   string         `json:"identity_id,omitempty"`
	UserID       string         `json:"user_id"`
	Provider     string         `json:"provider"`
	IdentityData map[string]any `json:"identity_data,omitempty"`
	LastSignInAt *time.Time     `json:"last_sign_in_at,omitempty"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
}

// Session is the credential material issued by the provider. It is persisted verbatim
// as JSON by the session storage layers.
type Session struct {
	AccessToken          string `json:"access_token"`
	TokenType            string `json:"token_type"`
	ExpiresIn            int64  `json:"expires_in"`
	ExpiresAt            int64  `json:"expires_at,omitempty"`
	RefreshToken         string `json:"refresh_token"`
	ProviderToken        string `json:"provider_token,omitempty"`
	ProviderRefreshToken string `json:"provider_refresh_token,omitempty"`
	User                 *User  `json:"user"`
}

// Expiry resolves the absolute expiry of the access token. The explicit expires_at wins,
// falling back to the exp claim of the access token. A zero time means unknown.
func (s *Session) Expiry() time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}

	claims, err := ParseClaims(s.AccessToken)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}

	return claims.ExpiresAt.Time
}

// NeedsRefresh reports whether the access token is expired or will be within margin.
func (s *Session) NeedsRefresh(now time.Time, margin time.Duration) bool {
	expiry := s.Expiry()
	if expiry.IsZero() {
		return false
	}
	return !now.Add(margin).Before(expiry)
}

// Token exposes the session as an oauth2 token, suitable for oauth2.StaticTokenSource.
func (s *Session) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry(),
		ExpiresIn:    s.ExpiresIn,
	}
	return tok.WithExtra(map[string]any{"provider_token": s.ProviderToken})
}

// AuthResponse is returned from sign up. Session is nil when the provider requires
// the email address to be confirmed before a session is issued.
type AuthResponse struct {
	User    *User
	Session *Session
}

// Settings is the public configuration of the identity provider.
type Settings struct {
	External          map[string]bool `json:"external"`
	DisableSignup     bool            `json:"disable_signup"`
	MailerAutoconfirm bool            `json:"mailer_autoconfirm"`
	PhoneAutoconfirm  bool            `json:"phone_autoconfirm"`
	SMSProvider       string          `json:"sms_provider,omitempty"`
	SAMLEnabled       bool            `json:"saml_enabled"`
}

// ProviderEnabled reports whether the named external provider (e.g. google) is enabled.
func (s *Settings) ProviderEnabled(name string) bool {
	if s == nil {
		return false
	}
	return s.External[name]
}
