package repository

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// Mutator edits a copy of the stored auction. A non-nil bid is appended to
// the auction's history in the same atomic write.
type Mutator func(a *model.Auction) (*model.Bid, error)

// AuctionStore defines durable keyed storage of auctions and their bid history
type AuctionStore interface {
	Create(ctx context.Context, auction model.Auction) error
	Get(ctx context.Context, id string) (model.Auction, error)
	CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (model.Auction, error)
	ListActive(ctx context.Context) ([]model.Auction, error)
	ListBids(ctx context.Context, auctionID string, limit int) ([]model.Bid, error)
	Ping(ctx context.Context) error
}

// applyMutation runs mutate against a copy of current when its version matches.
// ID and Version are owned by the store and cannot be changed by the mutator.
func applyMutation(current model.Auction, expectedVersion int64, mutate Mutator) (model.Auction, *model.Bid, error) {
	if current.Version != expectedVersion {
		return model.Auction{}, nil, fmt.Errorf("update auction %s: have version %d, expected %d: %w",
			current.ID, current.Version, expectedVersion, biddingerrors.ErrVersionConflict)
	}

	next := current
	bid, err := mutate(&next)
	if err != nil {
		return model.Auction{}, nil, err
	}
	next.ID = current.ID
	next.OwnerID = current.OwnerID
	next.Version = expectedVersion + 1

	if bid != nil {
		b := *bid
		b.AuctionID = current.ID
		bid = &b
	}
	return next, bid, nil
}

// sortAuctions orders listings oldest first so pages are stable
func sortAuctions(auctions []model.Auction) {
	sort.Slice(auctions, func(i, j int) bool {
		if auctions[i].CreatedAt.Equal(auctions[j].CreatedAt) {
			return auctions[i].ID < auctions[j].ID
		}
		return auctions[i].CreatedAt.Before(auctions[j].CreatedAt)
	})
}

// bidNode is an immutable newest-first list of bids shared between snapshots
type bidNode struct {
	bid  model.Bid
	next *bidNode
}

// snapshot is one committed version of an auction. Never mutated after publish.
type snapshot struct {
	auction model.Auction
	bids    *bidNode
}

type entry struct {
	state atomic.Pointer[snapshot]
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionStore.
// Each auction is swapped with an atomic compare-and-swap, so updates to
// different auctions never wait on each other.
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]*entry // key: auctionID -> current snapshot holder
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]*entry),
	}
}

func (r *MemoryRepo) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.auctions[id]
	return e, ok
}

// Create stores a new auction
func (r *MemoryRepo) Create(_ context.Context, auction model.Auction) error {
	if auction.ID == "" {
		return fmt.Errorf("create auction: empty id: %w", biddingerrors.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.auctions[auction.ID]; exists {
		return fmt.Errorf("create auction %s: %w", auction.ID, biddingerrors.ErrDuplicateID)
	}

	e := &entry{}
	e.state.Store(&snapshot{auction: auction})
	r.auctions[auction.ID] = e
	return nil
}

// Get returns the latest committed version of an auction
func (r *MemoryRepo) Get(_ context.Context, id string) (model.Auction, error) {
	e, ok := r.lookup(id)
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
	}
	return e.state.Load().auction, nil
}

// CompareAndUpdate applies mutate only if no other write landed since expectedVersion
func (r *MemoryRepo) CompareAndUpdate(_ context.Context, id string, expectedVersion int64, mutate Mutator) (model.Auction, error) {
	e, ok := r.lookup(id)
	if !ok {
		return model.Auction{}, fmt.Errorf("update auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
	}

	current := e.state.Load()
	next, bid, err := applyMutation(current.auction, expectedVersion, mutate)
	if err != nil {
		return model.Auction{}, err
	}

	updated := &snapshot{auction: next, bids: current.bids}
	if bid != nil {
		updated.bids = &bidNode{bid: *bid, next: current.bids}
	}

	if !e.state.CompareAndSwap(current, updated) {
		return model.Auction{}, fmt.Errorf("update auction %s: concurrent write: %w", id, biddingerrors.ErrVersionConflict)
	}
	return next, nil
}

// ListActive returns every auction still accepting bids
func (r *MemoryRepo) ListActive(_ context.Context) ([]model.Auction, error) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.auctions))
	for _, e := range r.auctions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	active := make([]model.Auction, 0, len(entries))
	for _, e := range entries {
		if a := e.state.Load().auction; a.Active {
			active = append(active, a)
		}
	}
	sortAuctions(active)
	return active, nil
}

// ListBids returns up to limit bids, newest first. limit <= 0 returns all.
func (r *MemoryRepo) ListBids(_ context.Context, auctionID string, limit int) ([]model.Bid, error) {
	e, ok := r.lookup(auctionID)
	if !ok {
		return nil, fmt.Errorf("list bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	bids := []model.Bid{}
	for n := e.state.Load().bids; n != nil; n = n.next {
		if limit > 0 && len(bids) == limit {
			break
		}
		bids = append(bids, n.bid)
	}
	return bids, nil
}

// Ping always succeeds for the in-memory store
func (r *MemoryRepo) Ping(_ context.Context) error {
	return nil
}

// AddAuction stores an auction unconditionally. This method is intended for tests and seeding only.
func (r *MemoryRepo) AddAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{}
	e.state.Store(&snapshot{auction: auction})
	r.auctions[auction.ID] = e
}
