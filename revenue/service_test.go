package revenue

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"lineage/ledger"
	"lineage/work"
)

const platformAddr = "platform-0"

type fakeTx struct {
	pgx.Tx
	committed bool
	rolled    bool
}

func (f *fakeTx) Commit(context.Context) error   { f.committed = true; return nil }
func (f *fakeTx) Rollback(context.Context) error { f.rolled = true; return nil }

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeWorks struct {
	works map[string]work.Work
	chain map[string][]work.Ancestor
}

func (f *fakeWorks) Get(_ context.Context, id string) (work.Work, error) {
	w, ok := f.works[id]
	if !ok {
		return work.Work{}, work.ErrNotFound
	}
	return w, nil
}

func (f *fakeWorks) AncestorChain(_ context.Context, id string) ([]work.Ancestor, error) {
	return f.chain[id], nil
}

type fakeCrediter struct {
	credits map[string]int64
	err     error
}

func (f *fakeCrediter) CreditManyTx(_ context.Context, _ pgx.Tx, credits []ledger.Credit) error {
	if f.err != nil {
		return f.err
	}
	if f.credits == nil {
		f.credits = make(map[string]int64)
	}
	for _, c := range credits {
		f.credits[c.Address] += c.Amount
	}
	return nil
}

type fakeReceipts struct {
	inserted []Receipt
	err      error
}

func (f *fakeReceipts) InsertReceipt(_ context.Context, _ pgx.Tx, receipt Receipt) (Receipt, error) {
	if f.err != nil {
		return Receipt{}, f.err
	}
	receipt.ID = "receipt-1"
	f.inserted = append(f.inserted, receipt)
	return receipt, nil
}

func (f *fakeReceipts) GetReceipt(_ context.Context, _ string) (Receipt, error) {
	return Receipt{}, ErrReceiptNotFound
}

func (f *fakeReceipts) ListByCreator(_ context.Context, _ string, _ int) ([]Receipt, error) {
	return nil, nil
}

func TestComputeSplit_Conservation(t *testing.T) {
	cases := []struct {
		amount    int64
		ancestors int
	}{
		{1000, 0},
		{1000, 1},
		{1000, 3},
		{999, 2},
		{1, 5},
		{7, 3},
		{1_000_000_000, 7},
	}
	for _, tc := range cases {
		split := ComputeSplit(tc.amount, DefaultFeeRateBps, tc.ancestors)
		total := split.PlatformFee + split.CreatorShare + split.AncestorTotal + split.Remainder
		if total != tc.amount {
			t.Errorf("amount=%d ancestors=%d: distributed %d, want %d",
				tc.amount, tc.ancestors, total, tc.amount)
		}
		if split.Remainder < 0 || split.Remainder > int64(tc.ancestors)+1 {
			t.Errorf("amount=%d ancestors=%d: remainder %d out of bounds",
				tc.amount, tc.ancestors, split.Remainder)
		}
	}
}

// Root work R, derivative D: a payment of 1000 to D at a 5% fee leaves 950,
// split 475 to D's creator and 475 to R's creator.
func TestProcessPayment_SingleAncestor(t *testing.T) {
	works := &fakeWorks{
		works: map[string]work.Work{
			"d": {ID: "d", CreatorID: "creator-d"},
		},
		chain: map[string][]work.Ancestor{
			"d": {{WorkID: "r", CreatorID: "creator-r", Depth: 1}},
		},
	}
	crediter := &fakeCrediter{}
	receipts := &fakeReceipts{}
	pool := &fakePool{}
	svc := NewService(pool, receipts, works, crediter, platformAddr)

	receipt, err := svc.ProcessPayment(context.Background(), "d", 1000)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}

	if receipt.PlatformFee != 50 {
		t.Errorf("platform fee = %d, want 50", receipt.PlatformFee)
	}
	if receipt.CreatorShare != 475 {
		t.Errorf("creator share = %d, want 475", receipt.CreatorShare)
	}
	if receipt.AncestorShare != 475 || receipt.AncestorCount != 1 {
		t.Errorf("ancestor share = %d count=%d, want 475/1", receipt.AncestorShare, receipt.AncestorCount)
	}
	if crediter.credits["creator-d"] != 475 || crediter.credits["creator-r"] != 475 {
		t.Errorf("unexpected credits: %+v", crediter.credits)
	}
	if crediter.credits[platformAddr] != 50 {
		t.Errorf("platform credit = %d, want 50", crediter.credits[platformAddr])
	}
	if !pool.tx.committed {
		t.Errorf("expected distribution commit")
	}
}

func TestProcessPayment_NoAncestors(t *testing.T) {
	works := &fakeWorks{
		works: map[string]work.Work{"r": {ID: "r", CreatorID: "creator-r"}},
		chain: map[string][]work.Ancestor{},
	}
	crediter := &fakeCrediter{}
	svc := NewService(&fakePool{}, &fakeReceipts{}, works, crediter, platformAddr)

	receipt, err := svc.ProcessPayment(context.Background(), "r", 1000)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if receipt.CreatorShare != 950 || receipt.AncestorShare != 0 {
		t.Errorf("unexpected shares: %+v", receipt)
	}
	if crediter.credits["creator-r"] != 950 {
		t.Errorf("creator credit = %d, want 950", crediter.credits["creator-r"])
	}
}

func TestProcessPayment_RemainderToPlatform(t *testing.T) {
	works := &fakeWorks{
		works: map[string]work.Work{"d": {ID: "d", CreatorID: "creator-d"}},
		chain: map[string][]work.Ancestor{
			"d": {
				{WorkID: "a", CreatorID: "creator-a", Depth: 1},
				{WorkID: "b", CreatorID: "creator-b", Depth: 2},
				{WorkID: "c", CreatorID: "creator-c", Depth: 3},
			},
		},
	}
	crediter := &fakeCrediter{}
	svc := NewService(&fakePool{}, &fakeReceipts{}, works, crediter, platformAddr)

	// 1000 -> fee 50, remaining 950: creator 475, pool 475 over 3 -> 158 each,
	// remainder 1 to platform.
	receipt, err := svc.ProcessPayment(context.Background(), "d", 1000)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if receipt.Remainder != 1 {
		t.Errorf("remainder = %d, want 1", receipt.Remainder)
	}
	if crediter.credits[platformAddr] != 51 {
		t.Errorf("platform credit = %d, want 51", crediter.credits[platformAddr])
	}
	for _, addr := range []string{"creator-a", "creator-b", "creator-c"} {
		if crediter.credits[addr] != 158 {
			t.Errorf("ancestor %s credit = %d, want 158", addr, crediter.credits[addr])
		}
	}
}

func TestProcessPayment_UnknownWork(t *testing.T) {
	works := &fakeWorks{works: map[string]work.Work{}}
	svc := NewService(&fakePool{}, &fakeReceipts{}, works, &fakeCrediter{}, platformAddr)

	_, err := svc.ProcessPayment(context.Background(), "nope", 100)
	if !errors.Is(err, work.ErrNotFound) {
		t.Fatalf("expected work.ErrNotFound, got %v", err)
	}
}

func TestProcessPayment_InvalidAmount(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeReceipts{}, &fakeWorks{}, &fakeCrediter{}, platformAddr)
	for _, amount := range []int64{0, -5} {
		if _, err := svc.ProcessPayment(context.Background(), "w", amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestProcessPayment_CreditFailureRollsBack(t *testing.T) {
	works := &fakeWorks{
		works: map[string]work.Work{"r": {ID: "r", CreatorID: "creator-r"}},
	}
	receipts := &fakeReceipts{}
	pool := &fakePool{}
	svc := NewService(pool, receipts, works, &fakeCrediter{err: errors.New("boom")}, platformAddr)

	if _, err := svc.ProcessPayment(context.Background(), "r", 1000); err == nil {
		t.Fatalf("expected error")
	}
	if pool.tx.committed {
		t.Errorf("expected no commit on credit failure")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback")
	}
	if len(receipts.inserted) != 0 {
		t.Errorf("expected no receipt persisted")
	}
}

func TestProcessTip_BypassesGenealogy(t *testing.T) {
	crediter := &fakeCrediter{}
	receipts := &fakeReceipts{}
	svc := NewService(&fakePool{}, receipts, &fakeWorks{}, crediter, platformAddr)

	receipt, err := svc.ProcessTip(context.Background(), "creator-x", 200)
	if err != nil {
		t.Fatalf("process tip: %v", err)
	}
	if receipt.Kind != KindTip || receipt.WorkID != nil {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if receipt.PlatformFee != 10 || receipt.CreatorShare != 190 {
		t.Errorf("unexpected tip split: %+v", receipt)
	}
	if crediter.credits["creator-x"] != 190 || crediter.credits[platformAddr] != 10 {
		t.Errorf("unexpected credits: %+v", crediter.credits)
	}
}
