package work

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

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

type fakeRepo struct {
	works  map[string]Work
	nextID int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{works: make(map[string]Work)}
}

func (f *fakeRepo) add(creatorID string, parentID *string, allowDerivative bool) string {
	f.nextID++
	id := fmt.Sprintf("w-%d", f.nextID)
	f.works[id] = Work{
		ID:              id,
		CreatorID:       creatorID,
		ParentID:        parentID,
		AllowDerivative: allowDerivative,
		Active:          true,
		CreatedAt:       time.Now(),
	}
	return id
}

func (f *fakeRepo) Get(_ context.Context, id string) (Work, error) {
	w, ok := f.works[id]
	if !ok {
		return Work{}, ErrNotFound
	}
	return w, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (Work, error) {
	return f.Get(ctx, id)
}

func (f *fakeRepo) Insert(_ context.Context, _ pgx.Tx, params RegisterParams) (Work, error) {
	id := f.add(params.CreatorID, params.ParentID, params.AllowDerivative)
	w := f.works[id]
	w.LicenseFee = params.LicenseFee
	w.MetadataRef = params.MetadataRef
	f.works[id] = w
	return w, nil
}

func (f *fakeRepo) SetActive(_ context.Context, _ pgx.Tx, id string, active bool) error {
	w, ok := f.works[id]
	if !ok {
		return ErrNotFound
	}
	w.Active = active
	f.works[id] = w
	return nil
}

func (f *fakeRepo) ListByCreator(_ context.Context, creatorID string, _ int) ([]Work, error) {
	var out []Work
	for _, w := range f.works {
		if w.CreatorID == creatorID {
			out = append(out, w)
		}
	}
	return out, nil
}

func TestRegister_RootWork(t *testing.T) {
	repo := newFakeRepo()
	pool := &fakePool{}
	svc := NewService(pool, repo)

	w, err := svc.Register(context.Background(), RegisterParams{
		CreatorID:       "creator-1",
		AllowDerivative: true,
		LicenseFee:      100,
	})
	if err != nil {
		t.Fatalf("register root: %v", err)
	}
	if w.ParentID != nil {
		t.Errorf("expected nil parent, got %v", *w.ParentID)
	}
	if !pool.tx.committed {
		t.Errorf("expected transaction commit")
	}
}

func TestRegister_ParentForbidsDerivatives(t *testing.T) {
	repo := newFakeRepo()
	parent := repo.add("creator-1", nil, false)
	svc := NewService(&fakePool{}, repo)

	_, err := svc.Register(context.Background(), RegisterParams{
		CreatorID: "creator-2",
		ParentID:  &parent,
	})
	if !errors.Is(err, ErrDerivativesNotAllowed) {
		t.Fatalf("expected ErrDerivativesNotAllowed, got %v", err)
	}
}

func TestRegister_ParentMissing(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(&fakePool{}, repo)

	missing := "w-404"
	_, err := svc.Register(context.Background(), RegisterParams{
		CreatorID: "creator-1",
		ParentID:  &missing,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAncestorChain_OrderAndDepth(t *testing.T) {
	repo := newFakeRepo()
	root := repo.add("alice", nil, true)
	mid := repo.add("bob", &root, true)
	leaf := repo.add("carol", &mid, true)
	svc := NewService(&fakePool{}, repo)

	chain, err := svc.AncestorChain(context.Background(), leaf)
	if err != nil {
		t.Fatalf("ancestor chain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected 2 ancestors, got %d", len(chain))
	}
	if chain[0].WorkID != mid || chain[0].CreatorID != "bob" || chain[0].Depth != 1 {
		t.Errorf("unexpected first hop: %+v", chain[0])
	}
	if chain[1].WorkID != root || chain[1].CreatorID != "alice" || chain[1].Depth != 2 {
		t.Errorf("unexpected second hop: %+v", chain[1])
	}
}

func TestAncestorChain_RootHasNoAncestors(t *testing.T) {
	repo := newFakeRepo()
	root := repo.add("alice", nil, true)
	svc := NewService(&fakePool{}, repo)

	chain, err := svc.AncestorChain(context.Background(), root)
	if err != nil {
		t.Fatalf("ancestor chain: %v", err)
	}
	if len(chain) != 0 {
		t.Fatalf("expected empty chain, got %d entries", len(chain))
	}
}

func TestAncestorChain_DepthBound(t *testing.T) {
	repo := newFakeRepo()
	prev := repo.add("creator-0", nil, true)
	leaf := prev
	for i := 1; i <= 6; i++ {
		parent := prev
		leaf = repo.add(fmt.Sprintf("creator-%d", i), &parent, true)
		prev = leaf
	}
	svc := NewService(&fakePool{}, repo).WithMaxChainDepth(3)

	_, err := svc.AncestorChain(context.Background(), leaf)
	if !errors.Is(err, ErrChainTooDeep) {
		t.Fatalf("expected ErrChainTooDeep, got %v", err)
	}
}

func TestAncestorChain_CycleDetected(t *testing.T) {
	repo := newFakeRepo()
	a := repo.add("alice", nil, true)
	b := repo.add("bob", &a, true)
	// corrupt the data: point the root back at its child
	wa := repo.works[a]
	wa.ParentID = &b
	repo.works[a] = wa
	svc := NewService(&fakePool{}, repo)

	_, err := svc.AncestorChain(context.Background(), b)
	if !errors.Is(err, ErrChainTooDeep) {
		t.Fatalf("expected ErrChainTooDeep on cycle, got %v", err)
	}
}

func TestDeactivate_OnlyCreator(t *testing.T) {
	repo := newFakeRepo()
	id := repo.add("alice", nil, true)
	svc := NewService(&fakePool{}, repo)

	if err := svc.Deactivate(context.Background(), id, "mallory"); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}
	if err := svc.Deactivate(context.Background(), id, "alice"); err != nil {
		t.Fatalf("deactivate by creator: %v", err)
	}
	if repo.works[id].Active {
		t.Errorf("expected work to be inactive")
	}
}

func TestIsAllowedParent(t *testing.T) {
	repo := newFakeRepo()
	open := repo.add("alice", nil, true)
	closed := repo.add("bob", nil, false)
	svc := NewService(&fakePool{}, repo)

	ok, err := svc.IsAllowedParent(context.Background(), open)
	if err != nil || !ok {
		t.Fatalf("expected allowed parent, got ok=%v err=%v", ok, err)
	}
	ok, err = svc.IsAllowedParent(context.Background(), closed)
	if err != nil || ok {
		t.Fatalf("expected forbidden parent, got ok=%v err=%v", ok, err)
	}
}
