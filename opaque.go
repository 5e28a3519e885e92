package identity

import (
	"crypto/rand"
	"encoding/base64"

	goerrors "github.com/goliatone/go-errors"
)

const opaqueTokenSize = 32

// GenerateOpaqueToken returns a cryptographically random, single-use token
// for email verification and password reset links. These tokens carry no
// claims: validity is decided solely by exact match against the stored value
// plus the stored expiry.
func GenerateOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenSize)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random source")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
