package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agritrace/fieldmap/internal/model"
)

func TestDemoCredentials(t *testing.T) {
	table := DemoCredentials()
	assert.Len(t, table.Keys(), 9)

	u, ok := table.Verify("farmer", "demo", "demo123")
	require.True(t, ok)
	assert.Equal(t, "Demo", u.FirstName)
	assert.Equal(t, "Farmer", u.LastName)
	assert.Equal(t, "farmer", u.Role)
	assert.Equal(t, int64(model.OfflineUserID), u.ID)
	assert.True(t, u.IsOffline)

	u, ok = table.Verify("regulatory", "admin", "admin123")
	require.True(t, ok)
	assert.Equal(t, "regulatory_admin", u.Role)

	_, ok = table.Verify("farmer", "demo", "wrong")
	assert.False(t, ok)
	// Key includes the user type.
	_, ok = table.Verify("exporter", "demo", "demo123")
	assert.False(t, ok)
	assert.True(t, table.Known("field_agent", "agent001"))
}

func TestParseCredentials(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	data := []byte(`
users:
  - userType: field_agent
    username: kollie
    passwordHash: "` + string(hash) + `"
    firstName: Kollie
    lastName: Toe
  - userType: farmer
    username: F-102
    password: plain-pass
`)
	table, err := ParseCredentials(data)
	require.NoError(t, err)

	u, ok := table.Verify("field_agent", "kollie", "s3cret")
	require.True(t, ok)
	assert.Equal(t, "Kollie", u.FirstName)

	_, ok = table.Verify("farmer", "F-102", "plain-pass")
	assert.True(t, ok)
}

func TestParseCredentials_Invalid(t *testing.T) {
	for name, data := range map[string]string{
		"no password": "users:\n  - userType: farmer\n    username: a\n",
		"bad hash":    "users:\n  - userType: farmer\n    username: a\n    passwordHash: nothash\n",
		"no username": "users:\n  - userType: farmer\n    password: x\n",
		"not yaml":    "users: [",
	} {
		_, err := ParseCredentials([]byte(data))
		assert.ErrorIs(t, err, ErrInvalidCredentialFile, name)
	}
}

func TestLoadCredentialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  - userType: exporter\n    username: x1\n    password: pw\n"), 0600))

	table, err := LoadCredentialFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"exporter.x1"}, table.Keys())

	_, err = LoadCredentialFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNoCredentials(t *testing.T) {
	_, ok := NoCredentials{}.Verify("farmer", "demo", "demo123")
	assert.False(t, ok)
}

func TestTokenIssuer(t *testing.T) {
	_, err := NewTokenIssuer("")
	assert.Error(t, err)

	ti, err := NewTokenIssuer("field-secret")
	require.NoError(t, err)

	u := model.User{ID: model.OfflineUserID, Username: "demo", UserType: "farmer", Role: "farmer", IsOffline: true}
	tok, err := ti.Issue(u, 24*time.Hour)
	require.NoError(t, err)

	claims, err := ti.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "demo", claims.Username)
	assert.Equal(t, "farmer", claims.UserType)
	assert.True(t, claims.Offline)
	assert.Contains(t, claims.ID, "offline_")

	other, _ := NewTokenIssuer("other-secret")
	_, err = other.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	ti.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, err := ti.Issue(u, 24*time.Hour)
	require.NoError(t, err)
	_, err = ti.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
