// Package directory resolves organizational metadata (division, department,
// manager flag) for email addresses. Lookups that miss yield Unknown values
// rather than errors.
package directory

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Unknown is the value used for every org field that could not be resolved.
const Unknown = "unknown"

// OrgInfo is the organizational metadata of one person.
type OrgInfo struct {
	Email         string `json:"email" yaml:"email"`
	Division      string `json:"division" yaml:"division"`
	Department    string `json:"department" yaml:"department"`
	Subdepartment string `json:"subdepartment" yaml:"subdepartment"`
	IsManager     bool   `json:"is_manager" yaml:"manager"`
	// Known is false when the email was not found.
	Known bool `json:"known" yaml:"-"`
}

// UnknownOrg returns the OrgInfo reported for an unresolvable email.
func UnknownOrg(email string) OrgInfo {
	return OrgInfo{
		Email:         NormalizeEmail(email),
		Division:      Unknown,
		Department:    Unknown,
		Subdepartment: Unknown,
	}
}

// Directory resolves an email to its organizational metadata. A miss returns
// UnknownOrg(email) and a nil error; errors are reserved for backend failures.
type Directory interface {
	Resolve(ctx context.Context, email string) (OrgInfo, error)
}

// Func adapts a function to Directory.
type Func func(ctx context.Context, email string) (OrgInfo, error)

func (f Func) Resolve(ctx context.Context, email string) (OrgInfo, error) {
	return f(ctx, email)
}

// Nop resolves every email to UnknownOrg.
var Nop Directory = Func(func(_ context.Context, email string) (OrgInfo, error) {
	return UnknownOrg(email), nil
})

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeName trims a department or division name and title-cases its
// first letters, so "engineering" and "Engineering" group together.
func normalizeName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" || strings.EqualFold(s, Unknown) {
		return Unknown
	}
	return cases.Title(language.English, cases.NoLower).String(s)
}

// Normalize fills blank fields with Unknown and canonicalizes names.
func (o OrgInfo) Normalize() OrgInfo {
	o.Email = NormalizeEmail(o.Email)
	o.Division = normalizeName(o.Division)
	o.Department = normalizeName(o.Department)
	o.Subdepartment = normalizeName(o.Subdepartment)
	return o
}

// Memo caches results of d in memory for the lifetime of the returned
// Directory. Backend errors are not cached.
func Memo(d Directory) Directory {
	return &memo{next: d, entries: make(map[string]OrgInfo)}
}

type memo struct {
	next    Directory
	mu      sync.Mutex
	entries map[string]OrgInfo
}

func (m *memo) Resolve(ctx context.Context, email string) (OrgInfo, error) {
	key := NormalizeEmail(email)
	m.mu.Lock()
	info, ok := m.entries[key]
	m.mu.Unlock()
	if ok {
		return info, nil
	}

	info, err := m.next.Resolve(ctx, key)
	if err != nil {
		return UnknownOrg(key), err
	}
	m.mu.Lock()
	m.entries[key] = info
	m.mu.Unlock()
	return info, nil
}
