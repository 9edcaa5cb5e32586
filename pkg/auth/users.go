package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Permissions granted to API operators.
const (
	PermissionExecute = "provision:execute"
	PermissionRead    = "provision:read"
	PermissionApprove = "remediation:approve"
	PermissionAudit   = "audit:read"

	// PermissionAll grants every permission.
	PermissionAll = "*"
)

var knownPermissions = map[string]bool{
	PermissionExecute: true,
	PermissionRead:    true,
	PermissionApprove: true,
	PermissionAudit:   true,
	PermissionAll:     true,
}

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// User is an operator allowed to log in.
type User struct {
	Username     string
	PasswordHash string
	Permissions  []string
}

// UserStore holds the configured operators.
type UserStore struct {
	users map[string]User
}

// NewUserStore validates the users and indexes them by name.
func NewUserStore(users []User) (*UserStore, error) {
	s := &UserStore{users: make(map[string]User, len(users))}
	for _, u := range users {
		name := strings.TrimSpace(u.Username)
		if name == "" {
			return nil, fmt.Errorf("user without a username")
		}
		if _, dup := s.users[name]; dup {
			return nil, fmt.Errorf("user %s configured twice", name)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %s: password_hash is not a bcrypt hash: %w", name, err)
		}
		for _, p := range u.Permissions {
			if !knownPermissions[p] {
				return nil, fmt.Errorf("user %s: unknown permission %q", name, p)
			}
		}
		u.Username = name
		s.users[name] = u
	}
	return s, nil
}

// Authenticate checks the password and returns the user.
func (s *UserStore) Authenticate(username, password string) (User, error) {
	u, ok := s.users[strings.TrimSpace(username)]
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Len returns the number of configured users.
func (s *UserStore) Len() int {
	return len(s.users)
}

// Usernames returns the configured user names, sorted.
func (s *UserStore) Usernames() []string {
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HashPassword returns a bcrypt hash suitable for password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
