package engine

import (
	"context"
	"strings"
)

// Credentials are the per-request cloud credentials. They travel on the context and
// are never read from or written to the process environment.
type Credentials struct {
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	SessionToken string `json:"session_token,omitempty"`
	Region       string `json:"region,omitempty"`
}

// Complete returns true if both keys are present.
func (c *Credentials) Complete() bool {
	return c != nil && strings.TrimSpace(c.AccessKey) != "" && strings.TrimSpace(c.SecretKey) != ""
}

// Redacted returns a copy safe for logging.
func (c *Credentials) Redacted() *Credentials {
	if c == nil {
		return nil
	}
	out := *c
	if len(out.AccessKey) > 4 {
		out.AccessKey = out.AccessKey[:4] + "****"
	}
	if out.SecretKey != "" {
		out.SecretKey = "****"
	}
	if out.SessionToken != "" {
		out.SessionToken = "****"
	}
	return &out
}

type credentialsKey struct{}

// WithCredentials returns a context carrying the credentials.
func WithCredentials(ctx context.Context, creds *Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// CredentialsFromContext returns the credentials on the context, or nil.
func CredentialsFromContext(ctx context.Context) *Credentials {
	creds, _ := ctx.Value(credentialsKey{}).(*Credentials)
	return creds
}

var credentialVariables = map[string]bool{
	"aws_access_key":        true,
	"aws_access_key_id":     true,
	"aws_secret_key":        true,
	"aws_secret_access_key": true,
	"aws_session_token":     true,
	"access_key":            true,
	"secret_key":            true,
	"session_token":         true,
}

// IsCredentialVariable returns true for input variables that carry credentials.
func IsCredentialVariable(key string) bool {
	return credentialVariables[strings.ToLower(key)]
}

// CredentialsFromVariables merges credential input variables over base.
func CredentialsFromVariables(base *Credentials, vars map[string]interface{}) *Credentials {
	out := &Credentials{}
	if base != nil {
		*out = *base
	}
	pick := func(keys ...string) string {
		for _, k := range keys {
			if s := StringValue(vars[k]); s != "" {
				return s
			}
		}
		return ""
	}
	if s := pick("aws_access_key", "aws_access_key_id", "access_key"); s != "" {
		out.AccessKey = s
	}
	if s := pick("aws_secret_key", "aws_secret_access_key", "secret_key"); s != "" {
		out.SecretKey = s
	}
	if s := pick("aws_session_token", "session_token"); s != "" {
		out.SessionToken = s
	}
	if s := pick("aws_region", "region"); s != "" && out.Region == "" {
		out.Region = s
	}
	if *out == (Credentials{}) {
		return base
	}
	return out
}
