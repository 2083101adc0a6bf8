// Package auth implements role membership, the global pause flag and
// orchestrator signature checks.
package auth

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
)

// Role names a permission set.
type Role string

const (
	RoleAdmin        Role = "admin"
	RolePauser       Role = "pauser"
	RoleOrchestrator Role = "orchestrator"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RolePauser, RoleOrchestrator}

func (r Role) valid() bool {
	switch r {
	case RoleAdmin, RolePauser, RoleOrchestrator:
		return true
	}
	return false
}

// Gate holds role tables and the pause flag. It is safe for concurrent use.
type Gate struct {
	mu      sync.RWMutex
	members map[Role]map[types.Account]bool
	paused  bool
}

// NewGate returns a gate whose only member is admin.
func NewGate(admin types.Account) (*Gate, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("%w: initial admin", types.ErrZeroAddress)
	}
	g := &Gate{members: make(map[Role]map[types.Account]bool)}
	for _, r := range Roles {
		g.members[r] = make(map[types.Account]bool)
	}
	g.members[RoleAdmin][admin] = true
	return g, nil
}

// HasRole reports whether account holds role.
func (g *Gate) HasRole(role Role, account types.Account) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.members[role][account]
}

// Require fails with types.ErrMissingRole unless account holds role.
func (g *Gate) Require(role Role, account types.Account) error {
	if !g.HasRole(role, account) {
		return fmt.Errorf("%w: %s lacks %s", types.ErrMissingRole, account, role)
	}
	return nil
}

// Grant adds account to role. Only admins may grant.
func (g *Gate) Grant(caller types.Account, role Role, account types.Account) (bool, error) {
	if err := g.checkChange(caller, role, account); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.members[role][account] {
		return false, nil
	}
	g.members[role][account] = true
	return true, nil
}

// Revoke removes account from role. Only admins may revoke; the last admin cannot be removed.
func (g *Gate) Revoke(caller types.Account, role Role, account types.Account) (bool, error) {
	if err := g.checkChange(caller, role, account); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.members[role][account] {
		return false, nil
	}
	if role == RoleAdmin && len(g.members[RoleAdmin]) == 1 {
		return false, fmt.Errorf("%w: cannot revoke the last admin", types.ErrMissingRole)
	}
	delete(g.members[role], account)
	return true, nil
}

func (g *Gate) checkChange(caller types.Account, role Role, account types.Account) error {
	if !role.valid() {
		return fmt.Errorf("%w: unknown role %q", types.ErrMissingRole, role)
	}
	if account.IsZero() {
		return fmt.Errorf("%w: role member", types.ErrZeroAddress)
	}
	return g.Require(RoleAdmin, caller)
}

// Members lists the accounts holding role in byte order.
func (g *Gate) Members(role Role) []types.Account {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.Account, 0, len(g.members[role]))
	for a := range g.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Pause stops every mutating entry point. Requires the pauser role.
func (g *Gate) Pause(caller types.Account) error { return g.setPaused(caller, true) }

// Unpause resumes operation. Requires the pauser role.
func (g *Gate) Unpause(caller types.Account) error { return g.setPaused(caller, false) }

func (g *Gate) setPaused(caller types.Account, paused bool) error {
	if err := g.Require(RolePauser, caller); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = paused
	return nil
}

func (g *Gate) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// RequireNotPaused fails with types.ErrPaused while paused.
func (g *Gate) RequireNotPaused() error {
	if g.Paused() {
		return types.ErrPaused
	}
	return nil
}

// State is the persisted part of a Gate.
type State struct {
	Members map[Role][]types.Account
	Paused  bool
}

func (g *Gate) Export() State {
	s := State{Members: make(map[Role][]types.Account, len(Roles)), Paused: g.Paused()}
	for _, r := range Roles {
		s.Members[r] = g.Members(r)
	}
	return s
}

// Import replaces the role tables. The state must keep at least one admin.
func (g *Gate) Import(s State) error {
	if len(s.Members[RoleAdmin]) == 0 {
		return fmt.Errorf("%w: state has no admin", types.ErrMissingRole)
	}
	members := make(map[Role]map[types.Account]bool, len(Roles))
	for _, r := range Roles {
		members[r] = make(map[types.Account]bool)
	}
	for role, accounts := range s.Members {
		if !role.valid() {
			return fmt.Errorf("%w: unknown role %q", types.ErrMissingRole, role)
		}
		for _, a := range accounts {
			members[role][a] = true
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = members
	g.paused = s.Paused
	return nil
}
