package internal

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Credentials is the bundle submitted on the login page
type Credentials struct {
	Identity string
	Secret   string
}

// String hides the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Identity: %q, Secret: <redacted>}", c.Identity)
}

// CredentialSource supplies credentials by reference on demand.
type CredentialSource interface {
	Credentials(ctx context.Context, ref string) (Credentials, error)
}

// EnvCredentialSource reads <REF>_IDENTITY and <REF>_SECRET, first from
// an optional .env file and then from the process environment, which
// wins. The file is read once and never exported into the environment.
type EnvCredentialSource struct {
	fileVars map[string]string
	lookup   func(string) (string, bool)
}

// NewEnvCredentialSource creates a source backed by the environment and,
// when envFile is non-empty, by that dotenv file.
func NewEnvCredentialSource(envFile string) (*EnvCredentialSource, error) {
	src := &EnvCredentialSource{
		fileVars: map[string]string{},
		lookup:   os.LookupEnv,
	}
	if envFile == "" {
		return src, nil
	}
	vars, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
	}
	src.fileVars = vars
	return src, nil
}

// EnvPrefix turns a credential reference into its variable prefix,
// e.g. "editorial-manager" -> "EDITORIAL_MANAGER".
func EnvPrefix(ref string) string {
	upper := strings.ToUpper(strings.TrimSpace(ref))
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
}

func (s *EnvCredentialSource) get(name string) string {
	if v, ok := s.lookup(name); ok && v != "" {
		return v
	}
	return s.fileVars[name]
}

// Credentials implements CredentialSource.
func (s *EnvCredentialSource) Credentials(ctx context.Context, ref string) (Credentials, error) {
	prefix := EnvPrefix(ref)
	creds := Credentials{
		Identity: s.get(prefix + "_IDENTITY"),
		Secret:   s.get(prefix + "_SECRET"),
	}
	if creds.Identity == "" || creds.Secret == "" {
		return Credentials{}, fmt.Errorf("%w: %s_IDENTITY/%s_SECRET not set", ErrCredentialsUnavailable, prefix, prefix)
	}
	return creds, nil
}
