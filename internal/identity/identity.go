// Package identity provides the credentials a gateway connection is opened with.
package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// UndefinedIdentifier is the identifier value meaning "not yet provisioned".
const UndefinedIdentifier = "undefined"

// Environment variables read by FromEnv.
const (
	EnvIdentifier     = "BLIP_IDENTIFIER"
	EnvToken          = "BLIP_TOKEN"
	EnvAuthentication = "BLIP_AUTHENTICATION"
)

// ErrInvalidCredentials is returned for empty or malformed credentials.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials identify the application and user a connection acts for.
type Credentials struct {
	Identifier     string // application identifier, without domain
	Token          string // issuer-signed user token
	Authentication string // user attribution, usually an email
}

// FromEnv loads credentials from the environment. Missing values are left
// empty; call Validate before use.
func FromEnv() Credentials {
	return Credentials{
		Identifier:     os.Getenv(EnvIdentifier),
		Token:          os.Getenv(EnvToken),
		Authentication: os.Getenv(EnvAuthentication),
	}
}

// Validate checks the identifier and token are structurally usable.
func (c Credentials) Validate() error {
	return ValidatePair(c.Identifier, c.Token)
}

// ValidatePair checks a raw identifier/token pair.
func ValidatePair(identifier, token string) error {
	if strings.TrimSpace(identifier) == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidCredentials)
	}
	if strings.ContainsAny(identifier, "@/ ") {
		return fmt.Errorf("%w: identifier %q must not contain '@', '/' or spaces", ErrInvalidCredentials, identifier)
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidCredentials)
	}
	return nil
}

// IsUndefined reports whether the identifier is the "not provisioned" sentinel.
func (c Credentials) IsUndefined() bool {
	return c.Identifier == UndefinedIdentifier
}
