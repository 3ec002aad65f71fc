package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Credentials is what the engine needs before it starts. Values are
// validated for shape only, not correctness.
type Credentials struct {
	OrgID string
	Token string
}

// validOrgID requires a numeric organization id.
func validOrgID(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// validToken requires a non-empty token.
func validToken(s string) bool {
	return strings.TrimSpace(s) != ""
}

// ask reads lines until the validator accepts one, re-asking on invalid
// input. It fails only when the input stream ends.
func ask(r *bufio.Reader, w io.Writer, question string, valid func(string) bool) (string, error) {
	for {
		fmt.Fprint(w, question)
		line, err := r.ReadString('\n')
		answer := strings.TrimSpace(line)
		if valid(answer) {
			return answer, nil
		}
		if err != nil {
			return "", fmt.Errorf("input ended before a valid answer: %w", err)
		}
		fmt.Fprintln(w, "Invalid input. Please try again.")
	}
}

// promptCredentials interactively collects the organization id and API token.
func promptCredentials(in io.Reader, out io.Writer) (Credentials, error) {
	r := bufio.NewReader(in)

	orgID, err := ask(r, out, "Enter your Organization ID: ", validOrgID)
	if err != nil {
		return Credentials{}, err
	}

	token, err := ask(r, out, "Enter your REST API Token: ", validToken)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{OrgID: orgID, Token: token}, nil
}
