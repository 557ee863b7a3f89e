package subscription

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// saveBackup and loadBackup implement the opt-in subscription backup of
// SPEC_FULL.md §4 (grounded on original_source's utils/subscription_backup.py):
// the last successfully-fetched raw body for a URL is cached to disk so
// a later failed fetch can fall back to it. Off unless Config.BackupDir
// is set.
func (f *Fetcher) saveBackup(url string, body []byte) {
	path := f.backupPath(url)
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, body, 0o644)
}

func (f *Fetcher) loadBackup(url string) ([]byte, error) {
	path := f.backupPath(url)
	if path == "" {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(path)
}

func (f *Fetcher) backupPath(url string) string {
	if f.cfg.BackupDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cfg.BackupDir, hex.EncodeToString(sum[:])+".bak")
}
