// Package report serializes the final aggregation store: a flattened
// per-board CSV and JSON report in a date-stamped directory, plus an error
// artifact enumerating URLs that stayed unresolved.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mirokit/boardreport/pkg/errtrack"
	"github.com/mirokit/boardreport/pkg/inventory"
)

// File names inside the output directory.
const (
	CSVFileName    = "full_report_by_board.csv"
	JSONFileName   = "full_report_by_board.json"
	ErrorsFileName = "board_errors.json"
)

// csvHeader is the flattened per-board column set.
var csvHeader = []string{
	"board_id",
	"board_url",
	"board_name",
	"team_id",
	"team_name",
	"board_owner_id",
	"board_owner_email",
}

// boardRow is the JSON report shape for one board, keyed by board id.
type boardRow struct {
	BoardID         string `json:"board_id"`
	BoardURL        string `json:"board_url"`
	BoardName       string `json:"board_name"`
	TeamID          string `json:"team_id"`
	TeamName        string `json:"team_name"`
	BoardOwnerID    string `json:"board_owner_id"`
	BoardOwnerEmail string `json:"board_owner_email"`
}

// errorRow is the JSON error artifact shape for one unresolved URL.
type errorRow struct {
	URL        string `json:"url"`
	EntityID   string `json:"entity_id,omitempty"`
	Scope      string `json:"scope"`
	Class      string `json:"error_class"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message,omitempty"`
	Retries    int    `json:"retries"`
}

// Writer writes the run artifacts into one date-stamped directory.
type Writer struct {
	dir    string
	logger zerolog.Logger
}

// NewWriter creates a writer rooted at baseDir. The output directory is
// named after the run date, e.g. "miro_board_report_2026-08-30".
func NewWriter(baseDir string, now time.Time) *Writer {
	dir := filepath.Join(baseDir, fmt.Sprintf("miro_board_report_%s", now.Format("2006-01-02")))
	return &Writer{
		dir:    dir,
		logger: log.With().Str("component", "report").Logger(),
	}
}

// Dir returns the output directory path.
func (w *Writer) Dir() string {
	return w.dir
}

// Write serializes the store and the remaining errors. It returns the paths
// of all files written.
func (w *Writer) Write(store *inventory.Store, errs []errtrack.Entry) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	boards := store.Boards()
	var paths []string

	csvPath := filepath.Join(w.dir, CSVFileName)
	if err := w.writeCSV(csvPath, boards); err != nil {
		return paths, err
	}
	paths = append(paths, csvPath)

	jsonPath := filepath.Join(w.dir, JSONFileName)
	if err := w.writeJSON(jsonPath, boards); err != nil {
		return paths, err
	}
	paths = append(paths, jsonPath)

	if len(errs) > 0 {
		errPath := filepath.Join(w.dir, ErrorsFileName)
		if err := w.writeErrors(errPath, errs); err != nil {
			return paths, err
		}
		paths = append(paths, errPath)
	}

	w.logger.Info().
		Str("dir", w.dir).
		Int("boards", len(boards)).
		Int("errors", len(errs)).
		Msg("Report written")

	return paths, nil
}

func (w *Writer) writeCSV(path string, boards []inventory.Board) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv report: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, b := range boards {
		row := []string{b.ID, b.URL, b.Name, b.TeamID, b.TeamName, b.OwnerID, b.OwnerEmail}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for board %s: %w", b.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv report: %w", err)
	}
	return nil
}

func (w *Writer) writeJSON(path string, boards []inventory.Board) error {
	rows := make(map[string]boardRow, len(boards))
	for _, b := range boards {
		rows[b.ID] = boardRow{
			BoardID:         b.ID,
			BoardURL:        b.URL,
			BoardName:       b.Name,
			TeamID:          b.TeamID,
			TeamName:        b.TeamName,
			BoardOwnerID:    b.OwnerID,
			BoardOwnerEmail: b.OwnerEmail,
		}
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write json report: %w", err)
	}
	return nil
}

func (w *Writer) writeErrors(path string, errs []errtrack.Entry) error {
	rows := make([]errorRow, 0, len(errs))
	for _, e := range errs {
		rows = append(rows, errorRow{
			URL:        e.URL,
			EntityID:   e.EntityID,
			Scope:      e.Scope,
			Class:      string(e.Class),
			StatusCode: e.StatusCode,
			Message:    e.Message,
			Retries:    e.Retries,
		})
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal error report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write error report: %w", err)
	}
	return nil
}
