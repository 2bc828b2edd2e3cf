// Package variables resolves {{name}} placeholders in subjects, payloads,
// templates and headers.
//
// Names are looked up in a Store; names starting with '$' are dynamic:
//
//	{{$uuid}}            random UUID v4
//	{{$timestamp}}       current unix time in seconds
//	{{$randomInt}}       random integer in [0, 1000)
//	{{$randomInt 5 10}}  random integer in [5, 10)
//
// Unknown placeholders are left untouched so the user can see what failed to
// resolve.
package variables

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/c360/natspad/errors"
)

// Resolver substitutes placeholders.
type Resolver interface {
	ResolveText(text string) string
	ResolveHeaders(headers map[string]string) map[string]string
}

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Store is an in-memory variable table, safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	vars map[string]string
	now  func() time.Time
}

// NewStore creates a store seeded with initial.
func NewStore(initial map[string]string) *Store {
	s := &Store{vars: make(map[string]string, len(initial)), now: time.Now}
	maps.Copy(s.vars, initial)
	return s
}

// Set assigns name. Names are trimmed; an empty name is rejected.
func (s *Store) Set(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.WrapInvalid(errors.ErrKeyRequired, "Store", "Set", "validate variable name")
	}
	if strings.HasPrefix(name, "$") {
		return errors.WrapInvalid(fmt.Errorf("%q is reserved for dynamic variables", name), "Store", "Set", "validate variable name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
	return nil
}

// Get returns the value of name
func (s *Store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// Delete removes name
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, name)
}

// Names returns the defined variable names, sorted
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.vars))
}

// LoadFile merges variables from a flat YAML (or JSON) mapping.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "Store", "LoadFile", "read variables file")
	}

	var vars map[string]string
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return errors.WrapInvalid(err, "Store", "LoadFile", "parse variables file")
	}
	for name, value := range vars {
		if err := s.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// ResolveText replaces every placeholder it can resolve.
func (s *Store) ResolveText(text string) string {
	return resolve(text, s.lookup, s.now)
}

// ResolveHeaders resolves header values. Keys are kept verbatim; nil in, nil out.
func (s *Store) ResolveHeaders(headers map[string]string) map[string]string {
	return resolveHeaders(s, headers)
}

func (s *Store) lookup(name string) (string, bool) {
	return s.Get(name)
}

// Scope overlays request-scoped variables on a base resolver. Scoped names
// win over the base; placeholders the scope does not know are handed to the
// base unchanged.
type Scope struct {
	base Resolver
	vars map[string]string
	now  func() time.Time
}

// NewScope creates a scope over base. A nil base resolves scoped names only.
func NewScope(base Resolver, vars map[string]string) *Scope {
	return &Scope{base: base, vars: vars, now: time.Now}
}

// ResolveText resolves each placeholder once: scoped names from the scope,
// everything else through the base. Substituted values are never rescanned,
// so request data cannot reach base variables.
func (s *Scope) ResolveText(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := s.vars[name]; ok {
			return v
		}
		if s.base == nil {
			return resolve(m, noLookup, s.now)
		}
		return s.base.ResolveText(m)
	})
}

// ResolveHeaders resolves header values
func (s *Scope) ResolveHeaders(headers map[string]string) map[string]string {
	return resolveHeaders(s, headers)
}

// Passthrough is a Resolver that only evaluates dynamic variables.
type Passthrough struct{}

// ResolveText evaluates dynamic variables
func (Passthrough) ResolveText(text string) string {
	return resolve(text, noLookup, time.Now)
}

// ResolveHeaders evaluates dynamic variables in header values
func (p Passthrough) ResolveHeaders(headers map[string]string) map[string]string {
	return resolveHeaders(p, headers)
}

func resolveHeaders(r Resolver, headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = r.ResolveText(v)
	}
	return out
}

func noLookup(string) (string, bool) { return "", false }

func resolve(text string, lookup func(string) (string, bool), now func() time.Time) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if strings.HasPrefix(name, "$") {
			if v, ok := dynamic(name, now); ok {
				return v
			}
			return m
		}
		if v, ok := lookup(name); ok {
			return v
		}
		return m
	})
}

func dynamic(expr string, now func() time.Time) (string, bool) {
	fields := strings.Fields(expr)
	switch fields[0] {
	case "$uuid":
		return uuid.NewString(), true
	case "$timestamp":
		return strconv.FormatInt(now().Unix(), 10), true
	case "$randomInt":
		lo, hi := 0, 1000
		if len(fields) == 3 {
			a, errA := strconv.Atoi(fields[1])
			b, errB := strconv.Atoi(fields[2])
			if errA != nil || errB != nil || b <= a {
				return "", false
			}
			lo, hi = a, b
		} else if len(fields) != 1 {
			return "", false
		}
		// the span can exceed MaxInt; unsigned wraparound keeps the sum exact
		span := uint64(hi) - uint64(lo)
		return strconv.Itoa(lo + int(rand.Uint64N(span))), true
	}
	return "", false
}
