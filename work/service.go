package work

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrDerivativesNotAllowed signals the parent forbids new children.
	ErrDerivativesNotAllowed = errors.New("work: parent does not allow derivatives")
	// ErrChainTooDeep signals the ancestor walk exceeded the configured bound.
	ErrChainTooDeep = errors.New("work: ancestor chain too deep")
	// ErrNotCreator signals the caller does not own the work.
	ErrNotCreator = errors.New("work: caller is not the creator")
)

// DefaultMaxChainDepth bounds ancestor walks. Registration appends one level
// at a time, so a longer chain can only appear through data corruption or a
// cycle; the walk errors out instead of truncating.
const DefaultMaxChainDepth = 50

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service implements the work genealogy store.
type Service struct {
	pool     TxBeginner
	repo     Repository
	maxDepth int
}

// NewService builds the genealogy service.
func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		maxDepth: DefaultMaxChainDepth,
	}
}

// WithMaxChainDepth overrides the ancestor walk bound.
func (s *Service) WithMaxChainDepth(depth int) *Service {
	if depth > 0 {
		s.maxDepth = depth
	}
	return s
}

// Register creates a work. When a parent is named it must exist and allow
// derivatives; the parent row is locked so the flag cannot change while the
// child row is inserted.
func (s *Service) Register(ctx context.Context, params RegisterParams) (Work, error) {
	if params.CreatorID == "" {
		return Work{}, fmt.Errorf("work: missing creator id")
	}
	if params.LicenseFee < 0 {
		return Work{}, fmt.Errorf("work: negative license fee")
	}
	if params.ParentID != nil && *params.ParentID == "" {
		params.ParentID = nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Work{}, fmt.Errorf("work: begin register: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.ParentID != nil {
		parent, err := s.repo.GetForUpdate(ctx, tx, *params.ParentID)
		if err != nil {
			return Work{}, err
		}
		if !parent.AllowDerivative || !parent.Active {
			return Work{}, ErrDerivativesNotAllowed
		}
	}

	created, err := s.repo.Insert(ctx, tx, params)
	if err != nil {
		return Work{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Work{}, fmt.Errorf("work: commit register: %w", err)
	}
	return created, nil
}

// Get returns a single work.
func (s *Service) Get(ctx context.Context, id string) (Work, error) {
	return s.repo.Get(ctx, id)
}

// ListByCreator returns the creator's works, newest first.
func (s *Service) ListByCreator(ctx context.Context, creatorID string, limit int) ([]Work, error) {
	return s.repo.ListByCreator(ctx, creatorID, limit)
}

// IsAllowedParent reports whether new derivatives may reference the work.
func (s *Service) IsAllowedParent(ctx context.Context, id string) (bool, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return w.AllowDerivative && w.Active, nil
}

// AncestorChain walks parent pointers from the work to its root, nearest
// parent first. The work itself is excluded. The walk is bounded and keeps a
// visited set, so a corrupt cycle surfaces as ErrChainTooDeep instead of
// spinning or silently truncating.
func (s *Service) AncestorChain(ctx context.Context, workID string) ([]Ancestor, error) {
	current, err := s.repo.Get(ctx, workID)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{current.ID: true}
	chain := make([]Ancestor, 0, 4)

	for current.ParentID != nil {
		if len(chain) >= s.maxDepth {
			return nil, ErrChainTooDeep
		}
		parent, err := s.repo.Get(ctx, *current.ParentID)
		if err != nil {
			return nil, err
		}
		if visited[parent.ID] {
			return nil, ErrChainTooDeep
		}
		visited[parent.ID] = true

		chain = append(chain, Ancestor{
			WorkID:    parent.ID,
			CreatorID: parent.CreatorID,
			Depth:     len(chain) + 1,
		})
		current = parent
	}

	return chain, nil
}

// Deactivate flips the active flag off. Works are never deleted; only the
// creator may deactivate.
func (s *Service) Deactivate(ctx context.Context, workID, actorID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("work: begin deactivate: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := s.repo.GetForUpdate(ctx, tx, workID)
	if err != nil {
		return err
	}
	if w.CreatorID != actorID {
		return ErrNotCreator
	}
	if err := s.repo.SetActive(ctx, tx, workID, false); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("work: commit deactivate: %w", err)
	}
	return nil
}
