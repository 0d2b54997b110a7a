package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

// File is the YAML layout read by StaticDirectory:
//
//	users:
//	  - email: ana@example.com
//	    division: Product
//	    department: Engineering
//	    subdepartment: Platform
//	    manager: true
//	domains:
//	  contractors.example.com:
//	    division: External
//	    department: Contractors
type File struct {
	Users   []OrgInfo          `yaml:"users"`
	Domains map[string]OrgInfo `yaml:"domains,omitempty"`
}

// StaticDirectory serves lookups from a YAML mapping file. Exact email
// entries win over per-domain defaults.
type StaticDirectory struct {
	path string

	mu      sync.RWMutex
	users   map[string]OrgInfo
	domains map[string]OrgInfo
}

// LoadStatic reads the mapping file at path.
func LoadStatic(path string) (*StaticDirectory, error) {
	d := &StaticDirectory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewStatic builds a directory from in-memory entries.
func NewStatic(f File) *StaticDirectory {
	d := &StaticDirectory{}
	d.apply(f)
	return d
}

// ParseFile decodes the YAML mapping format.
func ParseFile(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing directory file: %w", err)
	}
	for i, u := range f.Users {
		if strings.TrimSpace(u.Email) == "" {
			return File{}, fmt.Errorf("directory file: user %d has no email", i+1)
		}
	}
	return f, nil
}

// Reload re-reads the mapping file.
func (d *StaticDirectory) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("reading directory file: %w", err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return err
	}
	d.apply(f)
	return nil
}

func (d *StaticDirectory) apply(f File) {
	users := make(map[string]OrgInfo, len(f.Users))
	for _, u := range f.Users {
		u.Known = true
		u = u.Normalize()
		users[u.Email] = u
	}
	domains := make(map[string]OrgInfo, len(f.Domains))
	for domain, info := range f.Domains {
		info.Known = true
		domains[strings.ToLower(strings.TrimSpace(domain))] = info.Normalize()
	}

	d.mu.Lock()
	d.users = users
	d.domains = domains
	d.mu.Unlock()
}

// Resolve implements Directory.
func (d *StaticDirectory) Resolve(_ context.Context, email string) (OrgInfo, error) {
	key := NormalizeEmail(email)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if info, ok := d.users[key]; ok {
		return info, nil
	}
	if at := strings.LastIndex(key, "@"); at >= 0 {
		if info, ok := d.domains[key[at+1:]]; ok {
			info.Email = key
			info.IsManager = false
			return info, nil
		}
	}
	return UnknownOrg(key), nil
}

// Entries returns the explicit user entries, for import into the users table.
func (d *StaticDirectory) Entries() []OrgInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]OrgInfo, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	return out
}

// Len returns the number of explicit user entries.
func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// Watch reloads the file whenever it changes until ctx is cancelled. The
// parent directory is watched so editors that replace the file are handled.
func (d *StaticDirectory) Watch(ctx context.Context, log logging.Logger) error {
	if d.path == "" {
		return fmt.Errorf("directory has no backing file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", d.path, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(d.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := d.Reload(); err != nil {
					log.Warn("directory reload failed", logging.Err(err))
					continue
				}
				log.Info("directory reloaded", logging.F("entries", d.Len()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("directory watcher error", logging.Err(err))
			}
		}
	}()
	return nil
}
