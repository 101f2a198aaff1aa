package arbitration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lineage/ledger"
	"lineage/work"
)

type fakeRepo struct {
	disputes map[string]Dispute
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{disputes: make(map[string]Dispute)}
}

func (f *fakeRepo) Create(_ context.Context, d Dispute) (Dispute, error) {
	if _, ok := f.disputes[d.ReportID]; ok {
		return Dispute{}, ErrDuplicateReport
	}
	d.Status = StatusPending
	d.ActionTaken = ActionNone
	d.CreatedAt = time.Now()
	f.disputes[d.ReportID] = d
	return d, nil
}

func (f *fakeRepo) Get(_ context.Context, reportID string) (Dispute, error) {
	d, ok := f.disputes[reportID]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return d, nil
}

func (f *fakeRepo) SetStatus(_ context.Context, reportID string, status Status, note string) error {
	d, ok := f.disputes[reportID]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	if note != "" {
		d.Note = note
	}
	f.disputes[reportID] = d
	return nil
}

func (f *fakeRepo) StoreAssessment(_ context.Context, reportID string, a Assessment) error {
	d, ok := f.disputes[reportID]
	if !ok {
		return ErrNotFound
	}
	score := a.SimilarityScore
	d.SimilarityScore = &score
	d.Recommendation = a.Recommendation
	d.DisputedAreas = a.DisputedAreas
	d.Confidence = a.Confidence
	f.disputes[reportID] = d
	return nil
}

func (f *fakeRepo) StoreOutcome(_ context.Context, reportID string, status Status, actionTaken, note string) error {
	d, ok := f.disputes[reportID]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.ActionTaken = actionTaken
	d.Note = note
	f.disputes[reportID] = d
	return nil
}

func (f *fakeRepo) MarkResolved(_ context.Context, reportID string, note string) error {
	d, ok := f.disputes[reportID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	d.Status = StatusResolved
	d.Note = note
	d.ResolvedAt = &now
	f.disputes[reportID] = d
	return nil
}

func (f *fakeRepo) ListByStatus(_ context.Context, status Status, _ int) ([]Dispute, error) {
	var out []Dispute
	for _, d := range f.disputes {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeWorks struct {
	works map[string]work.Work
}

func (f *fakeWorks) Get(_ context.Context, id string) (work.Work, error) {
	w, ok := f.works[id]
	if !ok {
		return work.Work{}, work.ErrNotFound
	}
	return w, nil
}

type ledgerCall struct {
	op        string
	address   string
	to        string
	disputeID string
}

type fakeFunds struct {
	calls      []ledgerCall
	lockErr    error
	disableErr error
}

func (f *fakeFunds) LockFunds(_ context.Context, address, _, disputeID string, _ *int64) (ledger.FundLock, error) {
	if f.lockErr != nil {
		return ledger.FundLock{}, f.lockErr
	}
	f.calls = append(f.calls, ledgerCall{op: "lock", address: address, disputeID: disputeID})
	return ledger.FundLock{Address: address, DisputeID: disputeID, Active: true}, nil
}

func (f *fakeFunds) DisableWithdrawals(_ context.Context, address, _, disputeID string, _ ledger.Severity) (ledger.WithdrawalRestriction, error) {
	if f.disableErr != nil {
		return ledger.WithdrawalRestriction{}, f.disableErr
	}
	f.calls = append(f.calls, ledgerCall{op: "disable", address: address, disputeID: disputeID})
	return ledger.WithdrawalRestriction{Address: address, DisputeID: disputeID, Active: true}, nil
}

func (f *fakeFunds) UnlockFunds(_ context.Context, address, disputeID string) error {
	f.calls = append(f.calls, ledgerCall{op: "unlock", address: address, disputeID: disputeID})
	return nil
}

func (f *fakeFunds) EnableWithdrawals(_ context.Context, address, disputeID string) error {
	f.calls = append(f.calls, ledgerCall{op: "enable", address: address, disputeID: disputeID})
	return nil
}

func (f *fakeFunds) TransferLockedFunds(_ context.Context, from, to, disputeID string) error {
	f.calls = append(f.calls, ledgerCall{op: "transfer", address: from, to: to, disputeID: disputeID})
	return nil
}

type fakeScorer struct {
	assessment Assessment
	err        error
}

func (f *fakeScorer) Score(context.Context, string, string) (Assessment, error) {
	if f.err != nil {
		return Assessment{}, f.err
	}
	return f.assessment, nil
}

func newTestService(score int, scoreErr error) (*Service, *fakeRepo, *fakeFunds) {
	repo := newFakeRepo()
	works := &fakeWorks{works: map[string]work.Work{
		"w-copy":     {ID: "w-copy", CreatorID: "accused", Active: true},
		"w-original": {ID: "w-original", CreatorID: "reporter", Active: true},
	}}
	funds := &fakeFunds{}
	scorer := &fakeScorer{assessment: Assessment{SimilarityScore: score, Confidence: 0.9}, err: scoreErr}
	svc := NewService(repo, works, funds, scorer).
		WithIDGenerator(func() string { return "report-1" })
	return svc, repo, funds
}

func submitParams() SubmitParams {
	return SubmitParams{ReportedWorkID: "w-copy", OriginalWorkID: "w-original", ReporterID: "reporter"}
}

func TestSubmit_HighScoreLocksAndDisables(t *testing.T) {
	svc, _, funds := newTestService(95, nil)

	d, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != StatusWithdrawalDisabled {
		t.Errorf("expected withdrawal_disabled, got %s", d.Status)
	}
	if d.ActionTaken != ActionLockedDisabled {
		t.Errorf("expected action %q, got %q", ActionLockedDisabled, d.ActionTaken)
	}
	if len(funds.calls) != 2 {
		t.Fatalf("expected 2 ledger calls, got %d", len(funds.calls))
	}
	for _, call := range funds.calls {
		if call.address != "accused" {
			t.Errorf("ledger %s hit %s, want accused", call.op, call.address)
		}
		if call.disputeID != d.ReportID {
			t.Errorf("ledger %s keyed to %s, want %s", call.op, call.disputeID, d.ReportID)
		}
	}
	if funds.calls[0].op != "lock" || funds.calls[1].op != "disable" {
		t.Errorf("unexpected call order: %+v", funds.calls)
	}
}

func TestSubmit_LockTier(t *testing.T) {
	svc, _, funds := newTestService(85, nil)

	d, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != StatusAutoLocked || d.ActionTaken != ActionLocked {
		t.Errorf("expected auto_locked/locked, got %s/%s", d.Status, d.ActionTaken)
	}
	if len(funds.calls) != 1 || funds.calls[0].op != "lock" {
		t.Fatalf("expected a single lock call, got %+v", funds.calls)
	}
}

func TestSubmit_MidScoreEscalates(t *testing.T) {
	svc, _, funds := newTestService(65, nil)

	d, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != StatusEscalated {
		t.Errorf("expected escalated, got %s", d.Status)
	}
	if d.ActionTaken != ActionNone {
		t.Errorf("expected no action, got %q", d.ActionTaken)
	}
	if len(funds.calls) != 0 {
		t.Errorf("expected no ledger calls, got %+v", funds.calls)
	}
	if d.SimilarityScore == nil || *d.SimilarityScore != 65 {
		t.Errorf("expected stored score 65, got %v", d.SimilarityScore)
	}
}

func TestSubmit_ReviewTier(t *testing.T) {
	svc, _, funds := newTestService(30, nil)

	d, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != StatusUnderReview {
		t.Errorf("expected under_review, got %s", d.Status)
	}
	if len(funds.calls) != 0 {
		t.Errorf("expected no ledger calls, got %+v", funds.calls)
	}
}

func TestSubmit_LowScoreResolves(t *testing.T) {
	svc, _, _ := newTestService(10, nil)

	d, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != StatusResolved {
		t.Errorf("expected resolved, got %s", d.Status)
	}
	if d.ResolvedAt == nil {
		t.Errorf("expected resolved_at to be set")
	}
}

func TestSubmit_ClassifierFailureDegrades(t *testing.T) {
	svc, _, funds := newTestService(0, ErrClassifierUnavailable)

	d, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit should not fail on classifier outage: %v", err)
	}
	if d.Status != StatusPending {
		t.Errorf("expected pending, got %s", d.Status)
	}
	if d.SimilarityScore == nil || *d.SimilarityScore != 0 {
		t.Errorf("expected degraded score 0, got %v", d.SimilarityScore)
	}
	if !strings.Contains(d.Note, "manual_review_required") {
		t.Errorf("expected manual review note, got %q", d.Note)
	}
	if len(funds.calls) != 0 {
		t.Errorf("expected no enforcement on degraded submit, got %+v", funds.calls)
	}
}

func TestSubmit_DisableFailureKeepsLock(t *testing.T) {
	svc, _, funds := newTestService(95, nil)
	funds.disableErr = errors.New("restriction insert failed")

	d, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != StatusAutoLocked {
		t.Errorf("expected auto_locked after partial enforcement, got %s", d.Status)
	}
	if d.ActionTaken != ActionLocked {
		t.Errorf("expected recorded action %q, got %q", ActionLocked, d.ActionTaken)
	}
	if !strings.Contains(d.Note, "disable failed") {
		t.Errorf("expected failure note, got %q", d.Note)
	}
	if len(funds.calls) != 1 || funds.calls[0].op != "lock" {
		t.Fatalf("expected only the lock to land, got %+v", funds.calls)
	}
}

func TestSubmit_LockFailureStopsEnforcement(t *testing.T) {
	svc, _, funds := newTestService(95, nil)
	funds.lockErr = errors.New("account not found")

	d, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != StatusUnderReview {
		t.Errorf("expected under_review fallback, got %s", d.Status)
	}
	if d.ActionTaken != ActionNone {
		t.Errorf("expected no recorded action, got %q", d.ActionTaken)
	}
	if len(funds.calls) != 0 {
		t.Errorf("disable must not run after a failed lock, got %+v", funds.calls)
	}
}

func TestSubmit_SameWorkRejected(t *testing.T) {
	svc, _, _ := newTestService(95, nil)

	_, err := svc.Submit(context.Background(), SubmitParams{
		ReportedWorkID: "w-copy",
		OriginalWorkID: "w-copy",
	})
	if !errors.Is(err, ErrSameWork) {
		t.Fatalf("expected ErrSameWork, got %v", err)
	}
}

func TestSubmit_UnknownWork(t *testing.T) {
	svc, _, _ := newTestService(95, nil)

	_, err := svc.Submit(context.Background(), SubmitParams{
		ReportedWorkID: "w-404",
		OriginalWorkID: "w-original",
	})
	if !errors.Is(err, work.ErrNotFound) {
		t.Fatalf("expected work.ErrNotFound, got %v", err)
	}
}

func TestResolve_ConfirmedTransfersLock(t *testing.T) {
	svc, _, funds := newTestService(95, nil)

	submitted, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	funds.calls = nil

	d, err := svc.Resolve(context.Background(), submitted.ReportID, VerdictConfirmed)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Status != StatusResolved {
		t.Errorf("expected resolved, got %s", d.Status)
	}
	if len(funds.calls) != 2 {
		t.Fatalf("expected transfer + enable, got %+v", funds.calls)
	}
	transfer := funds.calls[0]
	if transfer.op != "transfer" || transfer.address != "accused" || transfer.to != "reporter" {
		t.Errorf("unexpected transfer: %+v", transfer)
	}
	if transfer.disputeID != submitted.ReportID {
		t.Errorf("transfer keyed to %s, want %s", transfer.disputeID, submitted.ReportID)
	}
	if funds.calls[1].op != "enable" {
		t.Errorf("expected enable after transfer, got %+v", funds.calls[1])
	}
}

func TestResolve_ClearedReleasesEverything(t *testing.T) {
	svc, _, funds := newTestService(95, nil)

	submitted, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	funds.calls = nil

	d, err := svc.Resolve(context.Background(), submitted.ReportID, VerdictCleared)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Status != StatusResolved {
		t.Errorf("expected resolved, got %s", d.Status)
	}
	if len(funds.calls) != 2 || funds.calls[0].op != "unlock" || funds.calls[1].op != "enable" {
		t.Fatalf("expected unlock + enable, got %+v", funds.calls)
	}
}

func TestResolve_PendingRejected(t *testing.T) {
	svc, repo, _ := newTestService(0, ErrClassifierUnavailable)

	submitted, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if repo.disputes[submitted.ReportID].Status != StatusPending {
		t.Fatalf("precondition: dispute should be pending")
	}

	_, err = svc.Resolve(context.Background(), submitted.ReportID, VerdictCleared)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAppeal_ReversesEnforcement(t *testing.T) {
	svc, _, funds := newTestService(85, nil)

	submitted, err := svc.Submit(context.Background(), submitParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	funds.calls = nil

	d, err := svc.Appeal(context.Background(), submitted.ReportID)
	if err != nil {
		t.Fatalf("appeal: %v", err)
	}
	if d.Status != StatusResolved {
		t.Errorf("expected resolved, got %s", d.Status)
	}
	if len(funds.calls) != 1 || funds.calls[0].op != "unlock" {
		t.Fatalf("expected a single unlock, got %+v", funds.calls)
	}
	if funds.calls[0].disputeID != submitted.ReportID {
		t.Errorf("unlock keyed to %s, want %s", funds.calls[0].disputeID, submitted.ReportID)
	}

	_, err = svc.Appeal(context.Background(), submitted.ReportID)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on resolved dispute, got %v", err)
	}
}

func TestPolicy_TierBoundaries(t *testing.T) {
	policy := DefaultPolicy()
	cases := []struct {
		score int
		want  Action
	}{
		{100, ActionTierLockAndDisable},
		{90, ActionTierLockAndDisable},
		{89, ActionTierLock},
		{80, ActionTierLock},
		{79, ActionTierEscalate},
		{50, ActionTierEscalate},
		{49, ActionTierReview},
		{20, ActionTierReview},
		{19, ActionTierNone},
		{0, ActionTierNone},
	}
	for _, tc := range cases {
		if got := policy.ActionFor(tc.score); got != tc.want {
			t.Errorf("score %d: got %s, want %s", tc.score, got, tc.want)
		}
	}
}
