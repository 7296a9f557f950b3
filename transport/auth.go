package transport

// Authenticator answers an AUTHENTICATE challenge from the server during
// STARTUP, per spec.md §4.1/§7. A nil Authenticator on ConnConfig means
// the driver has no credentials to offer; an AUTHENTICATE frame then
// fails the connection with AuthenticationRequiredError.
type Authenticator interface {
	// Mechanism is compared against the AUTHENTICATE frame's advertised
	// authenticator class name; a mismatch fails with
	// AuthenticationMechanismUnsupportedError.
	Mechanism() string
	// InitialResponse is sent in the first AUTH_RESPONSE frame.
	InitialResponse() []byte
	// EvaluateChallenge computes the next AUTH_RESPONSE token from an
	// AUTH_CHALLENGE payload.
	EvaluateChallenge(challenge []byte) ([]byte, error)
}

// PasswordAuthenticator implements Cassandra's built-in
// PasswordAuthenticator mechanism: a single SASL PLAIN-style token of
// "\x00username\x00password".
type PasswordAuthenticator struct {
	Username string
	Password string
}

func (PasswordAuthenticator) Mechanism() string {
	return "org.apache.cassandra.auth.PasswordAuthenticator"
}

func (a PasswordAuthenticator) InitialResponse() []byte {
	token := make([]byte, 0, len(a.Username)+len(a.Password)+2)
	token = append(token, 0)
	token = append(token, a.Username...)
	token = append(token, 0)
	token = append(token, a.Password...)
	return token
}

func (a PasswordAuthenticator) EvaluateChallenge(_ []byte) ([]byte, error) {
	return nil, &UnexpectedAuthenticationChallengeError{Mechanism: a.Mechanism()}
}
