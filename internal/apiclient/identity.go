// Package apiclient is the HTTP client for the clinicdocs API. It owns the
// caller's identity (bearer token, active organization, post-login
// redirect); nothing else reads or writes those values.
package apiclient

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// IdentityState is the persisted part of an Identity.
type IdentityState struct {
	Token          string `yaml:"token,omitempty"`
	OrganizationID string `yaml:"organization_id,omitempty"`
	RedirectTo     string `yaml:"redirect_to,omitempty"`
}

// Persister stores identity between runs.
type Persister interface {
	Load() (IdentityState, error)
	Save(IdentityState) error
}

// FilePersister keeps identity in a YAML file readable only by its owner.
type FilePersister struct {
	Path string
}

// Load returns an empty state when the file does not exist.
func (p FilePersister) Load() (IdentityState, error) {
	var st IdentityState
	raw, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to read session file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return IdentityState{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	return st, nil
}

func (p FilePersister) Save(st IdentityState) error {
	raw, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp, p.Path)
}

// Identity is the single reader and writer of the token, the active
// organization and the post-login redirect. Two counters track changes:
// tokenGen moves only when the token changes, gen moves when either the
// token or the organization does.
type Identity struct {
	mu        sync.RWMutex
	state     IdentityState
	tokenGen  uint64
	gen       uint64
	persister Persister
}

// NewIdentity loads the persisted state. A nil persister keeps identity in
// memory only.
func NewIdentity(p Persister) (*Identity, error) {
	id := &Identity{persister: p}
	if p == nil {
		return id, nil
	}
	st, err := p.Load()
	if err != nil {
		return nil, err
	}
	id.state = st
	return id, nil
}

func (i *Identity) Token() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.Token
}

func (i *Identity) OrganizationID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.OrganizationID
}

func (i *Identity) RedirectTo() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.RedirectTo
}

// Generation changes whenever the token or the organization actually
// changes. Setting the same value again leaves it alone.
func (i *Identity) Generation() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.gen
}

// TokenGeneration changes only when the token does.
func (i *Identity) TokenGeneration() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.tokenGen
}

// Snapshot returns the token, organization and token generation read
// together.
func (i *Identity) Snapshot() (token, orgID string, tokenGen uint64) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.Token, i.state.OrganizationID, i.tokenGen
}

func (i *Identity) SetToken(token string) error {
	return i.update(func(st *IdentityState) { st.Token = token })
}

func (i *Identity) SetOrganizationID(orgID string) error {
	return i.update(func(st *IdentityState) { st.OrganizationID = orgID })
}

// SetRedirect records where to resume after the next login.
func (i *Identity) SetRedirect(path string) error {
	return i.update(func(st *IdentityState) { st.RedirectTo = path })
}

// TakeRedirect returns and clears the post-login redirect.
func (i *Identity) TakeRedirect() (string, error) {
	var path string
	err := i.update(func(st *IdentityState) {
		path = st.RedirectTo
		st.RedirectTo = ""
	})
	return path, err
}

// ClearToken drops the token. The active organization survives so the user
// lands back in the same tenant after signing in again.
func (i *Identity) ClearToken() error {
	return i.SetToken("")
}

// expireIfCurrent clears the token only if one is set and it has not
// changed since tokenGen, and reports whether it did. Concurrent failures for
// the same token therefore act once, and failures without a session act
// never. Organization changes do not matter here.
func (i *Identity) expireIfCurrent(tokenGen uint64, redirect string) (bool, error) {
	i.mu.Lock()
	if i.tokenGen != tokenGen || i.state.Token == "" {
		i.mu.Unlock()
		return false, nil
	}
	i.state.Token = ""
	if redirect != "" {
		i.state.RedirectTo = redirect
	}
	i.tokenGen++
	i.gen++
	err := i.save(i.state)
	i.mu.Unlock()
	return true, err
}

func (i *Identity) update(fn func(st *IdentityState)) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	prev := i.state
	fn(&i.state)
	if i.state.Token != prev.Token {
		i.tokenGen++
		i.gen++
	} else if i.state.OrganizationID != prev.OrganizationID {
		i.gen++
	}
	return i.save(i.state)
}

// save must be called with mu held so writes land in order.
func (i *Identity) save(st IdentityState) error {
	if i.persister == nil {
		return nil
	}
	return i.persister.Save(st)
}
