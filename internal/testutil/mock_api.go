// Package testutil provides a configurable mock of the board API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Team is a seeded organization team.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Board is a seeded board of a team.
type Board struct {
	ID      string
	Name    string
	OwnerID string
}

// MockAPI is a scriptable in-memory board API server. It serves the teams,
// boards, and members endpoints and can be told to fail specific URLs a
// number of times before succeeding.
type MockAPI struct {
	server *httptest.Server

	mu           sync.Mutex
	teams        []Team
	teamPageSize int
	boards       map[string][]Board
	members      map[string]string

	// failures maps a URL key (path or path?query) to a queue of status
	// codes to serve before the URL starts succeeding. Status 0 means
	// "drop the connection".
	failures map[string][]int

	// zeroRemaining holds URL keys whose next success carries
	// X-RateLimit-Remaining: 0.
	zeroRemaining map[string]int

	requests map[string]int
}

// NewMockAPI creates a mock server with a default team page size of 2.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		teamPageSize:  2,
		boards:        make(map[string][]Board),
		members:       make(map[string]string),
		failures:      make(map[string][]int),
		zeroRemaining: make(map[string]int),
		requests:      make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server base URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// AddTeam seeds a team.
func (m *MockAPI) AddTeam(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams = append(m.teams, Team{ID: id, Name: name})
}

// AddBoard seeds a board for a team.
func (m *MockAPI) AddBoard(teamID, boardID, name, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[teamID] = append(m.boards[teamID], Board{ID: boardID, Name: name, OwnerID: ownerID})
}

// SeedBoards seeds n generated boards for a team, all owned by ownerID.
func (m *MockAPI) SeedBoards(teamID string, n int, ownerID string) {
	for i := 0; i < n; i++ {
		m.AddBoard(teamID, fmt.Sprintf("%s-b%03d", teamID, i), fmt.Sprintf("Board %d", i), ownerID)
	}
}

// SetMemberEmail seeds an org member email.
func (m *MockAPI) SetMemberEmail(id, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[id] = email
}

// SetTeamPageSize sets how many teams one cursor page carries.
func (m *MockAPI) SetTeamPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teamPageSize = n
}

// FailNext queues failure status codes for a URL key (path or path?query).
// The URL serves the queued statuses in order, then succeeds.
func (m *MockAPI) FailNext(urlKey string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[urlKey] = append(m.failures[urlKey], statuses...)
}

// ZeroRemainingNext makes the next n successful responses for a URL key
// carry X-RateLimit-Remaining: 0.
func (m *MockAPI) ZeroRemainingNext(urlKey string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zeroRemaining[urlKey] = n
}

// Requests returns how often a URL key was requested.
func (m *MockAPI) Requests(urlKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[urlKey]
}

// TotalRequests returns the total request count.
func (m *MockAPI) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

func urlKey(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	key := urlKey(r)

	m.mu.Lock()
	m.requests[key]++

	if queue := m.failures[key]; len(queue) > 0 {
		status := queue[0]
		m.failures[key] = queue[1:]
		m.mu.Unlock()
		m.fail(w, status)
		return
	}

	rateRemaining := ""
	if n := m.zeroRemaining[key]; n > 0 {
		m.zeroRemaining[key] = n - 1
		rateRemaining = "0"
	}
	m.mu.Unlock()

	if rateRemaining != "" {
		w.Header().Set("X-RateLimit-Remaining", rateRemaining)
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/teams"):
		m.serveTeams(w, r)
	case r.URL.Path == "/v2/boards":
		m.serveBoards(w, r)
	case strings.Contains(r.URL.Path, "/members/"):
		m.serveMember(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockAPI) fail(w http.ResponseWriter, status int) {
	if status == 429 {
		w.Header().Set("X-RateLimit-Remaining", "0")
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"message":"scripted failure"}`))
}

// serveTeams implements cursor pagination: the cursor token is the numeric
// index of the next page start.
func (m *MockAPI) serveTeams(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	teams := append([]Team(nil), m.teams...)
	pageSize := m.teamPageSize
	m.mu.Unlock()

	start := 0
	if c := r.URL.Query().Get("cursor"); c != "" {
		start, _ = strconv.Atoi(c)
	}

	end := start + pageSize
	if end > len(teams) {
		end = len(teams)
	}

	data := make([]json.RawMessage, 0, end-start)
	for _, t := range teams[start:end] {
		raw, _ := json.Marshal(t)
		data = append(data, raw)
	}

	resp := map[string]interface{}{
		"data":  data,
		"total": len(teams),
	}
	if end < len(teams) {
		resp["cursor"] = strconv.Itoa(end)
	}

	writeJSON(w, resp)
}

// serveBoards implements offset pagination over a team's seeded boards.
func (m *MockAPI) serveBoards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	teamID := q.Get("team_id")
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(q.Get("offset"))

	m.mu.Lock()
	boards := append([]Board(nil), m.boards[teamID]...)
	teamName := ""
	for _, t := range m.teams {
		if t.ID == teamID {
			teamName = t.Name
			break
		}
	}
	m.mu.Unlock()

	end := offset + limit
	if end > len(boards) {
		end = len(boards)
	}
	if offset > len(boards) {
		offset = len(boards)
	}

	data := make([]interface{}, 0, end-offset)
	for _, b := range boards[offset:end] {
		data = append(data, map[string]interface{}{
			"id":   b.ID,
			"name": b.Name,
			"team": map[string]string{
				"id":   teamID,
				"name": teamName,
			},
			"owner": map[string]string{
				"id": b.OwnerID,
			},
		})
	}

	writeJSON(w, map[string]interface{}{
		"data":  data,
		"total": len(boards),
	})
}

func (m *MockAPI) serveMember(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	id := parts[len(parts)-1]

	m.mu.Lock()
	email, ok := m.members[id]
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"member not found"}`))
		return
	}

	writeJSON(w, map[string]string{
		"id":    id,
		"email": email,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, _ := json.Marshal(v)
	_, _ = w.Write(data)
}
