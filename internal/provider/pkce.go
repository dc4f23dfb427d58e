package provider

import "golang.org/x/oauth2"

// ChallengeMethod is the PKCE method the provider expects in authorize requests.
const ChallengeMethod = "s256"

// PKCE is a verifier and its derived challenge for one authorization round trip.
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE generates a fresh verifier using the oauth2 package.
func NewPKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}
