package integration_test

import (
	"context"
	"path/filepath"
	"testing"

	"wahagate/internal/database"
	"wahagate/internal/models"

	"github.com/stretchr/testify/require"
)

// TestDatabaseOptions configures test database creation
type TestDatabaseOptions struct {
	// EncryptionSecret turns on at-rest encryption of subscriber secrets
	EncryptionSecret string
}

// NewTestDatabase creates a migrated SQLite database in a temp directory
func NewTestDatabase(t *testing.T, opts *TestDatabaseOptions) *database.Database {
	t.Helper()

	if opts == nil {
		opts = &TestDatabaseOptions{}
	}
	if opts.EncryptionSecret != "" {
		t.Setenv(database.EnvEnableEncryption, "true")
		t.Setenv(database.EnvEncryptionSecret, opts.EncryptionSecret)
	}

	cfg := models.DatabaseConfig{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "integration.db"),
	}

	db, err := database.New(context.Background(), cfg)
	require.NoError(t, err, "failed to create test database")
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return db
}

// SeedOrganization creates an organization and its sessions
func SeedOrganization(t *testing.T, db *database.Database, org models.Organization, sessionIDs ...string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, db.CreateOrganization(ctx, &org))
	for _, id := range sessionIDs {
		require.NoError(t, db.CreateSession(ctx, &models.Session{OrgID: org.ID, SessionID: id}))
	}
}
