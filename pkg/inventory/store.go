// Package inventory holds the shared, id-keyed dataset produced by a run:
// teams, boards, and board owners. All upserts are idempotent by id, so
// re-observing an entity on a retried page is a no-op.
package inventory

import (
	"sort"
	"sync"
)

// BoardStatus tracks owner email resolution for a board.
type BoardStatus string

const (
	// StatusPending marks a board whose owner email is not yet resolved.
	StatusPending BoardStatus = "pending"

	// StatusEmailResolved marks a board with a resolved owner email.
	StatusEmailResolved BoardStatus = "email_resolved"
)

// Team is an aggregated team with the boards discovered for it.
type Team struct {
	ID       string
	Name     string
	BoardIDs []string
}

// Board is one flattened report row.
type Board struct {
	ID         string
	URL        string
	Name       string
	TeamID     string
	TeamName   string
	OwnerID    string
	OwnerEmail string
	Status     BoardStatus
}

// User is a board owner, created eagerly at board discovery and filled in
// once the member lookup resolves the email.
type User struct {
	ID       string
	Email    string
	Resolved bool
}

// Store is the aggregation store shared by all walkers of a run.
// Access is mutex-guarded so a future parallel-teams variant stays correct;
// under the sequential window discipline the lock is uncontended.
type Store struct {
	mu        sync.RWMutex
	teams     map[string]*Team
	teamOrder []string
	boards    map[string]*Board
	users     map[string]*User
}

// NewStore creates an empty aggregation store.
func NewStore() *Store {
	return &Store{
		teams:  make(map[string]*Team),
		boards: make(map[string]*Board),
		users:  make(map[string]*User),
	}
}

// UpsertTeam registers a team. Insertion order is preserved so the board
// walks iterate teams in the order the API reported them.
func (s *Store) UpsertTeam(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.teams[id]; ok {
		t.Name = name
		return
	}
	s.teams[id] = &Team{ID: id, Name: name}
	s.teamOrder = append(s.teamOrder, id)
}

// UpsertBoard registers a board and eagerly creates its owner's user entry.
// Re-inserting a known board id is a no-op: id is the dedup key, and a
// board that already resolved its owner email must not regress to pending.
func (s *Store) UpsertBoard(b Board) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boards[b.ID]; !ok {
		board := b
		if board.Status == "" {
			board.Status = StatusPending
		}
		s.boards[b.ID] = &board

		if t, ok := s.teams[b.TeamID]; ok {
			t.BoardIDs = append(t.BoardIDs, b.ID)
		}
	}

	if _, ok := s.users[b.OwnerID]; !ok && b.OwnerID != "" {
		s.users[b.OwnerID] = &User{ID: b.OwnerID}
	}
}

// SetUserEmail resolves a user's email. The first resolution wins.
func (s *Store) SetUserEmail(id, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		u = &User{ID: id}
		s.users[id] = u
	}
	if !u.Resolved {
		u.Email = email
		u.Resolved = true
	}
}

// ResolveOwnerEmails joins boards with their owners: every board whose owner
// email is unresolved receives the email of its user entry, provided the
// member lookup already resolved it. It returns how many boards were
// resolved and how many remain pending.
func (s *Store) ResolveOwnerEmails() (resolved, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.boards {
		if b.Status == StatusEmailResolved {
			continue
		}
		u, ok := s.users[b.OwnerID]
		if !ok || !u.Resolved {
			pending++
			continue
		}
		b.OwnerEmail = u.Email
		b.Status = StatusEmailResolved
		resolved++
	}
	return resolved, pending
}

// TeamIDs returns team ids in discovery order.
func (s *Store) TeamIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.teamOrder))
	copy(ids, s.teamOrder)
	return ids
}

// Team returns a copy of the team with the given id.
func (s *Store) Team(id string) (Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return Team{}, false
	}
	out := *t
	out.BoardIDs = append([]string(nil), t.BoardIDs...)
	return out, true
}

// Board returns a copy of the board with the given id.
func (s *Store) Board(id string) (Board, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boards[id]
	if !ok {
		return Board{}, false
	}
	return *b, true
}

// User returns a copy of the user with the given id.
func (s *Store) User(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Boards returns all boards sorted by id for deterministic reporting.
func (s *Store) Boards() []Board {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boards := make([]Board, 0, len(s.boards))
	for _, b := range s.boards {
		boards = append(boards, *b)
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].ID < boards[j].ID })
	return boards
}

// UnresolvedUserIDs returns the ids of users whose email is still pending,
// sorted for deterministic batch building.
func (s *Store) UnresolvedUserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for id, u := range s.users {
		if !u.Resolved {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the store cardinalities (teams, boards, users).
func (s *Store) Counts() (teams, boards, users int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.teams), len(s.boards), len(s.users)
}
