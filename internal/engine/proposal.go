package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
	"github.com/FCisco95/organic-app-sub000/internal/events"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

// Proposal results.
const (
	ResultPassed        = "passed"
	ResultFailed        = "failed"
	ResultQuorumNotMet  = "quorum_not_met"
	autoFinalizePrefix  = "auto:"
	finalizeOutcomeOK   = "finalized"
	finalizeOutcomeDupe = "already_finalized"
)

var errEmptySnapshot = errors.New("holder snapshot is empty")

type ProposalCreateOptions struct {
	ID      string
	Title   string
	Body    string
	ActorID string
}

func (e Engine) CreateProposal(ctx context.Context, opts ProposalCreateOptions) (domain.Proposal, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Proposal{}, validationf(nil, "title is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermProposalCreate); err != nil {
		return domain.Proposal{}, err
	}
	p := domain.Proposal{
		ID:        newID(opts.ID),
		Title:     opts.Title,
		Body:      opts.Body,
		Status:    domain.ProposalDraft,
		CreatedBy: opts.ActorID,
		CreatedAt: e.now(),
	}
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		return domain.Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	if err := e.emit(ctx, tx, "proposal.created", "proposal", p.ID, opts.ActorID, events.EventPayload{"title": p.Title}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

func (e Engine) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	return e.Repo.GetProposal(ctx, nil, id)
}

func (e Engine) ListProposals(ctx context.Context, status string) ([]domain.Proposal, error) {
	return e.Repo.ListProposals(ctx, nil, status)
}

func (e Engine) ListVotes(ctx context.Context, proposalID string) ([]domain.Vote, error) {
	return e.Repo.ListVotes(ctx, nil, proposalID)
}

func (e Engine) ListHolderSnapshot(ctx context.Context, proposalID string) ([]domain.HolderSnapshot, error) {
	return e.Repo.ListHolderSnapshots(ctx, nil, proposalID)
}

// StartVoting opens voting on a draft and freezes voting power from current
// token balances. days <= 0 uses the configured voting period.
func (e Engine) StartVoting(ctx context.Context, id string, days int, actorID string) (domain.Proposal, error) {
	cfg, err := e.config()
	if err != nil {
		return domain.Proposal{}, err
	}
	if days <= 0 {
		days = cfg.Governance.VotingDays
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermProposalManage); err != nil {
		return domain.Proposal{}, err
	}
	p, err := e.Repo.GetProposal(ctx, tx, id)
	if err != nil {
		return domain.Proposal{}, err
	}
	if p.Status != domain.ProposalDraft {
		return domain.Proposal{}, conflict(CodeInvalidStatus, "only draft proposals can start voting", map[string]any{"status": p.Status})
	}
	total, err := e.Repo.SnapshotHolders(ctx, tx, id)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("snapshot holders: %w", err)
	}
	now := e.now()
	ends := now.Add(time.Duration(days) * 24 * time.Hour)
	ok, err := e.Repo.OpenVoting(ctx, tx, id, now, ends, total)
	if err != nil {
		return domain.Proposal{}, err
	}
	if !ok {
		return domain.Proposal{}, conflict(CodeStaleState, "proposal changed concurrently", map[string]any{"proposal_id": id})
	}
	if err := e.emit(ctx, tx, "proposal.voting_started", "proposal", id, actorID, events.EventPayload{
		"voting_ends_at": ends, "total_snapshot_power": total,
	}); err != nil {
		return domain.Proposal{}, err
	}
	updated, err := e.Repo.GetProposal(ctx, tx, id)
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return updated, nil
}

type CastVoteOptions struct {
	ProposalID string
	Value      string
	ActorID    string
}

// CastVote records or replaces the actor's vote. Weight is the actor's
// snapshot power.
func (e Engine) CastVote(ctx context.Context, opts CastVoteOptions) (domain.Vote, error) {
	switch opts.Value {
	case domain.VoteFor, domain.VoteAgainst, domain.VoteAbstain:
	default:
		return domain.Vote{}, validationf(map[string]any{"value": opts.Value}, "unknown vote value %q", opts.Value)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Vote{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Member(ctx, tx, opts.ActorID); err != nil {
		return domain.Vote{}, err
	}
	p, err := e.Repo.GetProposal(ctx, tx, opts.ProposalID)
	if err != nil {
		return domain.Vote{}, err
	}
	if p.Status != domain.ProposalVoting {
		return domain.Vote{}, conflict(CodeProposalNotVoting, "proposal is not open for voting", map[string]any{"status": p.Status})
	}
	now := e.now()
	if p.VotingEndsAt != nil && now.After(*p.VotingEndsAt) {
		return domain.Vote{}, conflict(CodeVotingClosed, "voting period has ended", map[string]any{"voting_ends_at": *p.VotingEndsAt})
	}
	power, err := e.Repo.HolderPower(ctx, tx, p.ID, opts.ActorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Vote{}, validationf(map[string]any{"member_id": opts.ActorID}, "member held no voting power at snapshot time")
	}
	if err != nil {
		return domain.Vote{}, err
	}
	v := domain.Vote{ProposalID: p.ID, VoterID: opts.ActorID, Value: opts.Value, Weight: power, CreatedAt: now}
	if err := e.Repo.UpsertVote(ctx, tx, v); err != nil {
		return domain.Vote{}, fmt.Errorf("record vote: %w", err)
	}
	if err := e.emit(ctx, tx, "proposal.vote_cast", "proposal", p.ID, opts.ActorID, events.EventPayload{"value": v.Value, "weight": v.Weight}); err != nil {
		return domain.Vote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Vote{}, err
	}
	return v, nil
}

type FinalizeOptions struct {
	// Early closes voting before voting_ends_at.
	Early   bool
	ActorID string
}

type Idempotency struct {
	AlreadyFinalized bool   `json:"already_finalized"`
	DedupeKey        string `json:"dedupe_key"`
}

type FinalizeResult struct {
	Proposal    domain.Proposal `json:"proposal"`
	Idempotency Idempotency     `json:"idempotency"`
}

// FinalizeProposal tallies snapshot-weighted votes and closes the proposal.
// The dedupe key is claimed in the finalize transaction, so a repeated key
// reports AlreadyFinalized without touching the tally. Unexpected failures
// are counted and freeze the proposal at the configured threshold.
func (e Engine) FinalizeProposal(ctx context.Context, id, dedupeKey string, opts FinalizeOptions) (FinalizeResult, error) {
	ctx, span := e.Metrics.Start(ctx, "finalize_proposal", attribute.String("proposal.id", id))
	defer span.End()
	cfg, err := e.config()
	if err != nil {
		return FinalizeResult{}, err
	}
	dedupeKey = strings.TrimSpace(dedupeKey)
	if dedupeKey == "" {
		return FinalizeResult{}, validationf(nil, "dedupe_key is required")
	}
	if opts.ActorID != SystemActor {
		perm := auth.PermProposalManage
		if opts.Early {
			perm = auth.PermProposalAdmin
		}
		if _, err := e.Auth.Require(ctx, nil, opts.ActorID, perm); err != nil {
			return FinalizeResult{}, err
		}
	}
	p, err := e.Repo.GetProposal(ctx, nil, id)
	if err != nil {
		return FinalizeResult{}, err
	}
	owner, err := e.Repo.FinalizeKeyOwner(ctx, nil, dedupeKey)
	switch {
	case err == nil && owner == id:
		e.Metrics.Finalize(ctx, finalizeOutcomeDupe)
		return FinalizeResult{Proposal: p, Idempotency: Idempotency{AlreadyFinalized: true, DedupeKey: dedupeKey}}, nil
	case err == nil:
		return FinalizeResult{}, validationf(map[string]any{"dedupe_key": dedupeKey}, "dedupe key belongs to another proposal")
	case !errors.Is(err, repo.ErrNotFound):
		return FinalizeResult{}, err
	}
	if p.FinalizationFrozenAt != nil {
		return FinalizeResult{}, &FrozenError{ProposalID: p.ID, FrozenAt: *p.FinalizationFrozenAt}
	}
	if p.Status == domain.ProposalFinalized {
		e.Metrics.Finalize(ctx, finalizeOutcomeDupe)
		return FinalizeResult{Proposal: p, Idempotency: Idempotency{AlreadyFinalized: true, DedupeKey: p.FinalizeDedupeKey}}, nil
	}
	if p.Status != domain.ProposalVoting {
		return FinalizeResult{}, conflict(CodeProposalNotVoting, "proposal is not in voting", map[string]any{"status": p.Status})
	}
	if !opts.Early && p.VotingEndsAt != nil && e.now().Before(*p.VotingEndsAt) {
		return FinalizeResult{}, conflict(CodeVotingOpen, "voting is still open", map[string]any{"voting_ends_at": *p.VotingEndsAt})
	}

	res, err := e.finalizeTx(ctx, cfg.Governance.QuorumPercent, cfg.Governance.PassThresholdPercent, p, dedupeKey, opts)
	if err == nil {
		outcome := finalizeOutcomeOK
		if res.Idempotency.AlreadyFinalized {
			outcome = finalizeOutcomeDupe
		}
		e.Metrics.Finalize(ctx, outcome)
		return res, nil
	}
	if IsConflict(err, "") || IsValidation(err) || IsFrozen(err) || IsForbidden(err) || errors.Is(err, repo.ErrNotFound) {
		return FinalizeResult{}, err
	}
	e.Metrics.Finalize(ctx, "failed")
	count, frozen, rerr := e.recordFinalizeFailure(ctx, p.ID, err, cfg.Governance.FinalizeFailureThreshold)
	if rerr != nil {
		e.log().Error("record finalize failure", "proposal_id", p.ID, "err", rerr)
	}
	if frozen {
		e.Metrics.Finalize(ctx, "frozen")
		e.log().Warn("proposal finalization frozen", "proposal_id", p.ID, "failures", count, "err", err)
	} else {
		e.log().Warn("proposal finalization failed", "proposal_id", p.ID, "failures", count, "err", err)
	}
	return FinalizeResult{}, fmt.Errorf("finalize proposal %s: %w", p.ID, err)
}

func (e Engine) finalizeTx(ctx context.Context, quorumPct, passPct float64, p domain.Proposal, key string, opts FinalizeOptions) (FinalizeResult, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return FinalizeResult{}, err
	}
	defer tx.Rollback()
	now := e.now()
	claimed, err := e.Repo.ClaimFinalizeKey(ctx, tx, key, p.ID, now)
	if err != nil {
		return FinalizeResult{}, err
	}
	if !claimed {
		current, err := e.Repo.GetProposal(ctx, tx, p.ID)
		if err != nil {
			return FinalizeResult{}, err
		}
		return FinalizeResult{Proposal: current, Idempotency: Idempotency{AlreadyFinalized: true, DedupeKey: key}}, nil
	}
	if p.TotalSnapshotPower <= 0 {
		return FinalizeResult{}, errEmptySnapshot
	}
	tally, err := e.Repo.TallyVotes(ctx, tx, p.ID)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("tally: %w", err)
	}
	result := decideResult(tally, p.TotalSnapshotPower, quorumPct, passPct)
	ok, err := e.Repo.MarkFinalized(ctx, tx, p.ID, repo.FinalizeResult{Tally: tally, Result: result, DedupeKey: key, Now: now})
	if err != nil {
		return FinalizeResult{}, err
	}
	if !ok {
		return FinalizeResult{}, conflict(CodeStaleState, "proposal changed concurrently", map[string]any{"proposal_id": p.ID})
	}
	if err := e.emit(ctx, tx, "proposal.finalized", "proposal", p.ID, opts.ActorID, events.EventPayload{
		"result": result, "for": tally.For, "against": tally.Against, "abstain": tally.Abstain,
		"total_snapshot_power": p.TotalSnapshotPower, "dedupe_key": key, "early": opts.Early,
	}); err != nil {
		return FinalizeResult{}, err
	}
	updated, err := e.Repo.GetProposal(ctx, tx, p.ID)
	if err != nil {
		return FinalizeResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult{Proposal: updated, Idempotency: Idempotency{DedupeKey: key}}, nil
}

// decideResult applies quorum over all snapshot power, then requires the
// for share of decisive votes to exceed the pass threshold.
func decideResult(t repo.Tally, totalPower int64, quorumPct, passPct float64) string {
	participation := t.For + t.Against + t.Abstain
	if float64(participation)*100 < float64(totalPower)*quorumPct {
		return ResultQuorumNotMet
	}
	decisive := t.For + t.Against
	if decisive > 0 && float64(t.For)*100 > float64(decisive)*passPct {
		return ResultPassed
	}
	return ResultFailed
}

func (e Engine) recordFinalizeFailure(ctx context.Context, id string, cause error, threshold int) (int, bool, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()
	count, frozen, err := e.Repo.RecordFinalizeFailure(ctx, tx, id, cause.Error(), threshold, e.now())
	if err != nil {
		return 0, false, err
	}
	evt := "proposal.finalize_failed"
	if frozen {
		evt = "proposal.finalize_frozen"
	}
	if err := e.emit(ctx, tx, evt, "proposal", id, SystemActor, events.EventPayload{"failures": count, "error": cause.Error()}); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return count, frozen, nil
}

// UnfreezeProposal clears a finalization freeze so finalize may run again.
func (e Engine) UnfreezeProposal(ctx context.Context, id, actorID string) (domain.Proposal, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermProposalAdmin); err != nil {
		return domain.Proposal{}, err
	}
	if _, err := e.Repo.GetProposal(ctx, tx, id); err != nil {
		return domain.Proposal{}, err
	}
	ok, err := e.Repo.Unfreeze(ctx, tx, id)
	if err != nil {
		return domain.Proposal{}, err
	}
	if !ok {
		return domain.Proposal{}, conflict(CodeInvalidStatus, "proposal is not frozen", map[string]any{"proposal_id": id})
	}
	if err := e.emit(ctx, tx, "proposal.unfrozen", "proposal", id, actorID, nil); err != nil {
		return domain.Proposal{}, err
	}
	p, err := e.Repo.GetProposal(ctx, tx, id)
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	e.log().Warn("proposal finalization unfrozen", "proposal_id", id, "actor_id", actorID)
	return p, nil
}

type FinalizeFailure struct {
	ProposalID string `json:"proposal_id"`
	Error      string `json:"error"`
}

// DueSweepResult lists proposals closed by FinalizeDueProposals.
type DueSweepResult struct {
	Finalized []string          `json:"finalized,omitempty"`
	Failed    []FinalizeFailure `json:"failed,omitempty"`
}

// FinalizeDueProposals finalizes every unfrozen proposal whose voting period
// has ended, using a per-proposal dedupe key.
func (e Engine) FinalizeDueProposals(ctx context.Context) (DueSweepResult, error) {
	voting, err := e.Repo.ListProposals(ctx, nil, domain.ProposalVoting)
	if err != nil {
		return DueSweepResult{}, err
	}
	now := e.now()
	var res DueSweepResult
	for _, p := range voting {
		if p.FinalizationFrozenAt != nil || p.VotingEndsAt == nil || now.Before(*p.VotingEndsAt) {
			continue
		}
		out, err := e.FinalizeProposal(ctx, p.ID, autoFinalizePrefix+p.ID, FinalizeOptions{ActorID: SystemActor})
		if err != nil {
			res.Failed = append(res.Failed, FinalizeFailure{ProposalID: p.ID, Error: err.Error()})
			continue
		}
		if !out.Idempotency.AlreadyFinalized {
			res.Finalized = append(res.Finalized, p.ID)
		}
	}
	return res, nil
}
