package sessionpool

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/linkpellow/scrapegoat/internal/constants"
	"github.com/linkpellow/scrapegoat/internal/models"
)

// diskFilename returns the one-file-per-key path under dir (§6 persisted
// state layout). Domain and proxy identity are slashed into a flat name
// since both can contain characters that are awkward in a single path
// segment ("site.example.com", "residential-1").
func diskFilename(dir string, key models.SessionKey) string {
	safe := strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(key.Domain + "__" + key.ProxyIdentity)
	return filepath.Join(dir, safe+".json")
}

func (p *Pool) persist(s *models.SessionVault) error {
	if p.dir == "" {
		return nil
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("sessionpool: create persist dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionpool: marshal session for %s/%s: %w", s.Key.Domain, s.Key.ProxyIdentity, err)
	}
	path := diskFilename(p.dir, s.Key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("sessionpool: write session file %s: %w", path, err)
	}
	return nil
}

func (p *Pool) remove(key models.SessionKey) {
	if p.dir == "" {
		return
	}
	if err := os.Remove(diskFilename(p.dir, key)); err != nil && !os.IsNotExist(err) {
		log.Printf("[WARN] sessionpool: failed to remove persisted session %s/%s: %v", key.Domain, key.ProxyIdentity, err)
	}
}

// loadFromDisk hydrates the in-memory pool from dir, dropping any file
// whose mtime is older than MaxPersistedAgeHours (§4.5).
func (p *Pool) loadFromDisk() {
	if p.dir == "" {
		return
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WARN] sessionpool: could not read persist dir %s: %v", p.dir, err)
		}
		return
	}
	cutoff := time.Now().Add(-constants.MaxPersistedAgeHours * time.Hour)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			log.Printf("[INFO] sessionpool: dropping stale persisted session file %s (age %s)", entry.Name(), time.Since(info.ModTime()))
			_ = os.Remove(path)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[WARN] sessionpool: could not read session file %s: %v", path, err)
			continue
		}
		var s models.SessionVault
		if err := json.Unmarshal(data, &s); err != nil {
			log.Printf("[WARN] sessionpool: could not decode session file %s: %v", path, err)
			continue
		}
		p.sessions[s.Key] = &s
	}
	log.Printf("[INFO] sessionpool: loaded %d persisted sessions from %s", len(p.sessions), p.dir)
}
