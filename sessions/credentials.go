package sessions

import (
	"fmt"
	"os"
	"path/filepath"
)

// PairingFileName is the transient pairing-code image inside a tenant's
// credential directory. It exists iff the tenant is awaiting pairing.
const PairingFileName = "pairing.png"

// CredentialStore manages the per-tenant durable directories that hold the
// opaque authentication bundle for one messaging identity. A directory is
// exclusively owned by its tenant's supervisor.
type CredentialStore struct {
	root string
}

func NewCredentialStore(root string) *CredentialStore {
	return &CredentialStore{root: root}
}

// Dir returns the tenant's credential directory path.
func (c *CredentialStore) Dir(tenantID string) string {
	return filepath.Join(c.root, tenantID)
}

// Ensure creates the tenant's credential directory if needed and returns
// its path.
func (c *CredentialStore) Ensure(tenantID string) (string, error) {
	dir := c.Dir(tenantID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create credential directory for %s: %w", tenantID, err)
	}
	return dir, nil
}

// Exists reports whether the tenant has a credential directory on disk.
func (c *CredentialStore) Exists(tenantID string) bool {
	info, err := os.Stat(c.Dir(tenantID))
	return err == nil && info.IsDir()
}

// Wipe removes the tenant's entire credential directory, pairing file
// included. The next start will pair from scratch.
func (c *CredentialStore) Wipe(tenantID string) error {
	if err := os.RemoveAll(c.Dir(tenantID)); err != nil {
		return fmt.Errorf("wipe credentials for %s: %w", tenantID, err)
	}
	return nil
}

// WritePairingFile persists the rendered pairing-code image.
func (c *CredentialStore) WritePairingFile(tenantID string, png []byte) error {
	dir, err := c.Ensure(tenantID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, PairingFileName), png, 0o600); err != nil {
		return fmt.Errorf("write pairing file for %s: %w", tenantID, err)
	}
	return nil
}

// ClearPairingFile deletes the pairing image; called the instant the
// session reaches Connected.
func (c *CredentialStore) ClearPairingFile(tenantID string) error {
	err := os.Remove(filepath.Join(c.Dir(tenantID), PairingFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear pairing file for %s: %w", tenantID, err)
	}
	return nil
}

// HasPairingFile reports whether a pairing image is pending on disk.
func (c *CredentialStore) HasPairingFile(tenantID string) bool {
	_, err := os.Stat(filepath.Join(c.Dir(tenantID), PairingFileName))
	return err == nil
}

// Tenants lists every tenant that has a credential directory, for resuming
// sessions at process start.
func (c *CredentialStore) Tenants() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list credential directories: %w", err)
	}
	var tenants []string
	for _, e := range entries {
		if e.IsDir() {
			tenants = append(tenants, e.Name())
		}
	}
	return tenants, nil
}
