package client

import (
	"encoding/json"
	"fmt"
)

// Envelope is the common shape of collection responses:
// a data array, a server-reported total, and an optional pagination cursor.
type Envelope struct {
	Data   []json.RawMessage `json:"data"`
	Total  int               `json:"total"`
	Cursor string            `json:"cursor,omitempty"`
}

// Team is the wire shape of one entry in an organization teams page.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Board is the wire shape of one entry in a boards page.
type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Team struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
	Owner struct {
		ID string `json:"id"`
	} `json:"owner"`
}

// Member is the wire shape of an organization member lookup.
type Member struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// DecodeTeams decodes the raw entries of a teams page.
func DecodeTeams(raw []json.RawMessage) ([]Team, error) {
	teams := make([]Team, 0, len(raw))
	for i, r := range raw {
		var t Team
		if err := json.Unmarshal(r, &t); err != nil {
			return nil, fmt.Errorf("decode team entry %d: %w", i, err)
		}
		teams = append(teams, t)
	}
	return teams, nil
}

// DecodeBoards decodes the raw entries of a boards page.
func DecodeBoards(raw []json.RawMessage) ([]Board, error) {
	boards := make([]Board, 0, len(raw))
	for i, r := range raw {
		var b Board
		if err := json.Unmarshal(r, &b); err != nil {
			return nil, fmt.Errorf("decode board entry %d: %w", i, err)
		}
		boards = append(boards, b)
	}
	return boards, nil
}
