// Package export sequences the full inventory run: teams, boards per team,
// owner lookups, and the owner-email join, feeding one shared aggregation
// store. Each phase reports a boolean result; a failed phase never raises,
// and whatever was aggregated before the failure is still handed over to
// the report writer.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mirokit/boardreport/pkg/client"
	"github.com/mirokit/boardreport/pkg/errtrack"
	"github.com/mirokit/boardreport/pkg/fetch"
	"github.com/mirokit/boardreport/pkg/inventory"
	"github.com/mirokit/boardreport/pkg/walk"
)

// boardViewBase derives the user-facing board URL from a board id.
const boardViewBase = "https://miro.com/app/board/"

// Config holds the pipeline tuning. The retry ceilings of the board and
// member flows are deliberately independent knobs.
type Config struct {
	// OrgID is the organization whose graph is exported.
	OrgID string

	// Window caps simultaneous requests per batch window.
	Window int

	// PageSize is the boards page size.
	PageSize int

	// BoardsBatch and MembersBatch cap the URLs per walker round.
	BoardsBatch  int
	MembersBatch int

	// Retry ceilings per flow.
	TeamsCeiling   int
	BoardsCeiling  int
	MembersCeiling int

	// BoardRetryRounds bounds the pipeline-level retry of failed board
	// page requests after all teams have been walked.
	BoardRetryRounds int

	// Cool-down windows per flow.
	TeamsCooldown   time.Duration
	BoardsCooldown  time.Duration
	MembersCooldown time.Duration
	RoundCooldown   time.Duration

	// RequestTimeout per individual HTTP request.
	RequestTimeout time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig(orgID string) Config {
	return Config{
		OrgID:            orgID,
		Window:           100,
		PageSize:         50,
		BoardsBatch:      250,
		MembersBatch:     70,
		TeamsCeiling:     8,
		BoardsCeiling:    8,
		MembersCeiling:   13,
		BoardRetryRounds: 3,
		TeamsCooldown:    43 * time.Second,
		BoardsCooldown:   38 * time.Second,
		MembersCooldown:  61 * time.Second,
		RoundCooldown:    25 * time.Second,
		RequestTimeout:   30 * time.Second,
	}
}

// PhaseResult is the outcome of one top-level phase.
type PhaseResult struct {
	Name      string
	OK        bool
	Processed int
	Errors    []errtrack.Entry
}

// Summary is the terminal result of a pipeline run.
type Summary struct {
	OK             bool
	Teams          int
	Boards         int
	Users          int
	ResolvedEmails int
	PendingEmails  int
	Phases         []PhaseResult

	// Errors enumerates every URL still unresolved at the end of the run.
	Errors []errtrack.Entry
}

// Pipeline drives a full export against one organization.
type Pipeline struct {
	api     *client.Client
	batcher *fetch.Batcher
	store   *inventory.Store
	backoff walk.Backoff
	cfg     Config
	logger  zerolog.Logger
}

// New creates a pipeline. The store is owned by the pipeline and handed to
// the report writer after Run.
func New(api *client.Client, backoff walk.Backoff, cfg Config) *Pipeline {
	return &Pipeline{
		api: api,
		batcher: fetch.NewBatcher(api, fetch.Config{
			Window:  cfg.Window,
			Timeout: cfg.RequestTimeout,
		}),
		store:   inventory.NewStore(),
		backoff: backoff,
		cfg:     cfg,
		logger:  log.With().Str("component", "pipeline").Logger(),
	}
}

// Store returns the aggregation store.
func (p *Pipeline) Store() *inventory.Store {
	return p.store
}

// Run executes the pipeline: teams, boards per team, pipeline-level board
// retries, member lookups, and the owner-email join.
func (p *Pipeline) Run(ctx context.Context) *Summary {
	summary := &Summary{OK: true}

	teamsRes := p.walkTeams(ctx)
	summary.Phases = append(summary.Phases, PhaseResult{
		Name:      "teams",
		OK:        teamsRes.OK,
		Processed: teamsRes.Processed,
		Errors:    teamsRes.Errors,
	})
	if !teamsRes.OK {
		// Without the team list there is nothing else to walk.
		p.logger.Error().Msg("Teams walk failed - aborting pipeline")
		summary.OK = false
		summary.Errors = append(summary.Errors, teamsRes.Errors...)
		p.fillCounts(summary)
		return summary
	}

	boardsPhase := p.walkBoards(ctx)
	summary.Phases = append(summary.Phases, boardsPhase)
	if !boardsPhase.OK {
		summary.OK = false
		summary.Errors = append(summary.Errors, boardsPhase.Errors...)
	}

	membersPhase := p.walkMembers(ctx)
	summary.Phases = append(summary.Phases, membersPhase)
	if !membersPhase.OK {
		summary.OK = false
		summary.Errors = append(summary.Errors, membersPhase.Errors...)
	}

	resolved, pending := p.store.ResolveOwnerEmails()
	summary.ResolvedEmails = resolved
	summary.PendingEmails = pending
	p.fillCounts(summary)

	p.logger.Info().
		Bool("ok", summary.OK).
		Int("teams", summary.Teams).
		Int("boards", summary.Boards).
		Int("users", summary.Users).
		Int("emails_resolved", resolved).
		Int("emails_pending", pending).
		Msg("Pipeline complete")

	return summary
}

func (p *Pipeline) fillCounts(summary *Summary) {
	summary.Teams, summary.Boards, summary.Users = p.store.Counts()
}

// walkTeams drives the cursor-paginated organization teams collection.
func (p *Pipeline) walkTeams(ctx context.Context) walk.Result {
	registry := errtrack.NewRegistry()
	walker := walk.NewCursor(p.batcher, registry, p.backoff, walk.Config{
		BatchSize:    1,
		RetryCeiling: p.cfg.TeamsCeiling,
		Cooldown:     p.cfg.TeamsCooldown,
	}, "teams", p.teamsURL(), p.mergeTeamsPage)

	p.logger.Info().Str("org", p.cfg.OrgID).Msg("Walking organization teams")
	return walker.Run(ctx)
}

// walkBoards drives one offset walker per team, sharing a single error
// registry, then retries leftover failed page requests as a unit for a
// bounded number of rounds.
func (p *Pipeline) walkBoards(ctx context.Context) PhaseResult {
	registry := errtrack.NewRegistry()
	teamIDs := p.store.TeamIDs()
	processed := 0

	for i, teamID := range teamIDs {
		p.logger.Info().
			Str("team", teamID).
			Int("index", i+1).
			Int("teams", len(teamIDs)).
			Msg("Walking boards of team")

		walker := walk.NewOffset(p.batcher, registry, p.backoff, walk.Config{
			BatchSize:    p.cfg.BoardsBatch,
			PageSize:     p.cfg.PageSize,
			RetryCeiling: p.cfg.BoardsCeiling,
			Cooldown:     p.cfg.BoardsCooldown,
		}, "boards", p.boardsURL(teamID), teamID, p.mergeBoardsPage)

		res := walker.Run(ctx)
		processed += res.Processed
		if !res.OK {
			// Leftover registry entries get the pipeline-level rounds below;
			// sibling teams keep walking either way.
			p.logger.Warn().
				Str("team", teamID).
				Int("errors", registry.Len()).
				Msg("Board walk aborted for team")
		}
	}

	for round := 1; !registry.Empty() && round <= p.cfg.BoardRetryRounds; round++ {
		p.logger.Warn().
			Int("round", round).
			Int("rounds", p.cfg.BoardRetryRounds).
			Int("errors", registry.Len()).
			Msg("Retrying failed board page requests as a unit")

		if err := p.backoff.Hold(ctx, p.cfg.RoundCooldown); err != nil {
			break
		}
		processed += p.retryBoardRound(ctx, registry)
	}

	return PhaseResult{
		Name:      "boards",
		OK:        registry.Empty(),
		Processed: processed,
		Errors:    registry.Snapshot(),
	}
}

// retryBoardRound re-issues every retryable registry entry once and merges
// the successes. Returns the number of boards merged.
func (p *Pipeline) retryBoardRound(ctx context.Context, registry *errtrack.Registry) int {
	entries := registry.Retryable()
	reqs := make([]fetch.Request, 0, len(entries))
	for _, e := range entries {
		reqs = append(reqs, fetch.Request{URL: e.URL, EntityID: e.EntityID})
	}

	merged := 0
	outcomes := p.batcher.Fetch(ctx, reqs)
	for i := range outcomes {
		o := &outcomes[i]
		if !o.Success() {
			registry.Record(errtrack.Entry{
				URL:        o.URL,
				EntityID:   o.EntityID,
				Scope:      "boards",
				Class:      o.Class,
				StatusCode: o.StatusCode,
				Message:    errMessage(o.Err),
			})
			continue
		}
		env, err := o.Envelope()
		if err != nil {
			continue
		}
		count, err := p.mergeBoardsPage(*o, env)
		if err != nil {
			continue
		}
		merged += count
		registry.Clear(o.URL)
	}
	return merged
}

// walkMembers resolves owner emails through the org member endpoint, one
// request per distinct unresolved owner id, in fixed-size batches with an
// independent registry and retry budget.
func (p *Pipeline) walkMembers(ctx context.Context) PhaseResult {
	ids := p.store.UnresolvedUserIDs()
	if len(ids) == 0 {
		return PhaseResult{Name: "members", OK: true}
	}

	reqs := make([]fetch.Request, 0, len(ids))
	for _, id := range ids {
		reqs = append(reqs, fetch.Request{URL: p.memberURL(id), EntityID: id})
	}

	registry := errtrack.NewRegistry()
	walker := walk.NewList(p.batcher, registry, p.backoff, walk.Config{
		BatchSize:    p.cfg.MembersBatch,
		RetryCeiling: p.cfg.MembersCeiling,
		Cooldown:     p.cfg.MembersCooldown,
	}, "members", p.mergeMember)

	p.logger.Info().Int("owners", len(ids)).Msg("Resolving owner emails")
	res := walker.Run(ctx, reqs)

	return PhaseResult{
		Name:      "members",
		OK:        res.OK,
		Processed: res.Processed,
		Errors:    res.Errors,
	}
}

// mergeTeamsPage upserts every team of one teams page.
func (p *Pipeline) mergeTeamsPage(_ fetch.Outcome, env *client.Envelope) (int, error) {
	teams, err := client.DecodeTeams(env.Data)
	if err != nil {
		return 0, err
	}
	for _, t := range teams {
		p.store.UpsertTeam(t.ID, t.Name)
	}
	return len(teams), nil
}

// mergeBoardsPage upserts every board of one boards page. Team and owner
// identity come from the board item itself, never from surrounding state.
func (p *Pipeline) mergeBoardsPage(_ fetch.Outcome, env *client.Envelope) (int, error) {
	boards, err := client.DecodeBoards(env.Data)
	if err != nil {
		return 0, err
	}
	for _, b := range boards {
		p.store.UpsertBoard(inventory.Board{
			ID:       b.ID,
			URL:      boardViewBase + b.ID,
			Name:     b.Name,
			TeamID:   b.Team.ID,
			TeamName: b.Team.Name,
			OwnerID:  b.Owner.ID,
			Status:   inventory.StatusPending,
		})
	}
	return len(boards), nil
}

// mergeMember records one resolved owner email.
func (p *Pipeline) mergeMember(o fetch.Outcome) error {
	var m client.Member
	if err := json.Unmarshal(o.Body, &m); err != nil {
		return fmt.Errorf("decode member %s: %w", o.EntityID, err)
	}
	if m.ID == "" {
		m.ID = o.EntityID
	}
	p.store.SetUserEmail(m.ID, m.Email)
	return nil
}

func (p *Pipeline) teamsURL() string {
	return fmt.Sprintf("%s/v2/orgs/%s/teams", p.api.BaseURL(), p.cfg.OrgID)
}

func (p *Pipeline) boardsURL(teamID string) string {
	return fmt.Sprintf("%s/v2/boards?team_id=%s&limit=%d", p.api.BaseURL(), teamID, p.cfg.PageSize)
}

func (p *Pipeline) memberURL(id string) string {
	return fmt.Sprintf("%s/v2/orgs/%s/members/%s", p.api.BaseURL(), p.cfg.OrgID, id)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
