// Package auth holds the offline side of login: the table of credentials a
// device may verify without the remote service, and the tokens it mints
// for sessions established that way.
package auth

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"
	"golang.org/x/crypto/bcrypt"

	"github.com/agritrace/fieldmap/internal/model"
)

var ErrInvalidCredentialFile = errors.New("invalid credential file")

// Policy decides whether a user may log in without the remote service.
type Policy interface {
	// Verify returns the offline user when password matches.
	Verify(userType, username, password string) (*model.User, bool)
}

// RoleFor maps a user type to the role granted on offline login.
func RoleFor(userType string) string {
	if userType == "regulatory" {
		return "regulatory_admin"
	}
	return userType
}

type credential struct {
	hash      []byte
	firstName string
	lastName  string
}

// CredentialTable is a Policy over bcrypt password hashes keyed by
// userType.username.
type CredentialTable struct {
	mu      sync.RWMutex
	entries map[string]credential
	cost    int
}

// NewCredentialTable creates an empty table hashing with cost
// (bcrypt.DefaultCost when cost is 0).
func NewCredentialTable(cost int) *CredentialTable {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &CredentialTable{entries: make(map[string]credential), cost: cost}
}

func key(userType, username string) string {
	return userType + "." + username
}

// Add hashes password and stores it for userType/username.
func (t *CredentialTable) Add(userType, username, password, firstName, lastName string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), t.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password for %s: %w", key(userType, username), err)
	}
	return t.AddHashed(userType, username, string(hash), firstName, lastName)
}

// AddHashed stores an existing bcrypt hash.
func (t *CredentialTable) AddHashed(userType, username, hash, firstName, lastName string) error {
	if userType == "" || username == "" {
		return fmt.Errorf("%w: user type and username are required", ErrInvalidCredentialFile)
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("%w: bad hash for %s: %v", ErrInvalidCredentialFile, key(userType, username), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key(userType, username)] = credential{hash: []byte(hash), firstName: firstName, lastName: lastName}
	return nil
}

// Verify implements Policy.
func (t *CredentialTable) Verify(userType, username, password string) (*model.User, bool) {
	t.mu.RLock()
	c, ok := t.entries[key(userType, username)]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword(c.hash, []byte(password)) != nil {
		return nil, false
	}
	return &model.User{
		ID:        model.OfflineUserID,
		Username:  username,
		UserType:  userType,
		Role:      RoleFor(userType),
		FirstName: c.firstName,
		LastName:  c.lastName,
		IsOffline: true,
	}, true
}

// Known reports whether userType/username has an entry.
func (t *CredentialTable) Known(userType, username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[key(userType, username)]
	return ok
}

// Keys lists the userType.username keys in the table.
func (t *CredentialTable) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DemoCredentials returns the field demo accounts.
func DemoCredentials() *CredentialTable {
	t := NewCredentialTable(bcrypt.MinCost)
	for _, d := range []struct{ userType, username, password, first, last string }{
		{"regulatory", "admin", "admin123", "Admin", "User"},
		{"regulatory", "inspector", "inspect123", "John", "Inspector"},
		{"farmer", "farmer001", "farmer123", "John", "Farmer"},
		{"farmer", "farmer002", "farm456", "Mary", "Johnson"},
		{"farmer", "demo", "demo123", "Demo", "Farmer"},
		{"field_agent", "agent001", "agent123", "Jane", "Agent"},
		{"field_agent", "field001", "field123", "Tom", "Field"},
		{"exporter", "export001", "export123", "Bob", "Exporter"},
		{"exporter", "trade001", "trade123", "Alice", "Trader"},
	} {
		// MinCost hashing of short fixed strings cannot fail.
		_ = t.Add(d.userType, d.username, d.password, d.first, d.last)
	}
	return t
}

// credentialFile is the YAML layout of an offline credential file.
type credentialFile struct {
	Users []struct {
		UserType     string `yaml:"userType"`
		Username     string `yaml:"username"`
		PasswordHash string `yaml:"passwordHash"`
		Password     string `yaml:"password"`
		FirstName    string `yaml:"firstName"`
		LastName     string `yaml:"lastName"`
	} `yaml:"users"`
}

// LoadCredentialFile reads a YAML credential file. Entries carry either a
// bcrypt passwordHash or a plain password, which is hashed on load.
func LoadCredentialFile(path string) (*CredentialTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	return ParseCredentials(data)
}

// ParseCredentials decodes the YAML credential layout.
func ParseCredentials(data []byte) (*CredentialTable, error) {
	var f credentialFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentialFile, err)
	}

	t := NewCredentialTable(0)
	for i, u := range f.Users {
		var err error
		switch {
		case u.PasswordHash != "":
			err = t.AddHashed(u.UserType, u.Username, u.PasswordHash, u.FirstName, u.LastName)
		case u.Password != "":
			if u.UserType == "" || u.Username == "" {
				err = fmt.Errorf("%w: user type and username are required", ErrInvalidCredentialFile)
			} else {
				err = t.Add(u.UserType, u.Username, u.Password, u.FirstName, u.LastName)
			}
		default:
			err = fmt.Errorf("%w: entry %d has no password", ErrInvalidCredentialFile, i+1)
		}
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NoCredentials is a Policy that never allows offline login.
type NoCredentials struct{}

// Verify always fails.
func (NoCredentials) Verify(string, string, string) (*model.User, bool) { return nil, false }
