package stream

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// Authenticate requires the client to present username and password via
// basic auth before any content is streamed.
func (t *Transfer) Authenticate(username, password string) error {
	if username == "" {
		return NewHTTPError(ErrBadRequest, "authentication requires a username")
	}

	t.verifier = StaticCredentials(username, password)
	return nil
}

// AuthenticateWith delegates credential checks to v.
func (t *Transfer) AuthenticateWith(v Verifier) error {
	if v == nil {
		return NewHTTPError(ErrBadRequest, "authentication requires a verifier")
	}

	t.verifier = v
	return nil
}

// Challenge rejects the request with a 401 asking for basic credentials.
func Challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Download"`)
	WriteError(w, NewHTTPError(ErrUnauthorized, ""))
}

// StaticCredentials returns a Verifier accepting exactly one
// username/password pair.
func StaticCredentials(username, password string) Verifier {
	return staticCredentials{username: username, password: password}
}

type staticCredentials struct {
	username string
	password string
}

func (c staticCredentials) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.password)) == 1
	return userOK && passOK
}

// BcryptVerifier checks a password against a bcrypt hash for one user.
type BcryptVerifier struct {
	Username string
	Hash     []byte
}

// Verify reports whether username matches and password hashes to Hash.
func (v BcryptVerifier) Verify(username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), []byte(v.Username)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.Hash, []byte(password)) == nil
}
