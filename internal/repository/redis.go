package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// activeSetKey holds the ids of auctions still accepting bids
const activeSetKey = "auctions:active"

func auctionKey(id string) string {
	return "auction:" + id
}

func bidsKey(id string) string {
	return "auction:" + id + ":bids"
}

// RedisOptions holds connection parameters for the Redis client
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// OpenRedis creates a go-redis client and pings it to verify connectivity
func OpenRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w: %w", opts.Addr, biddingerrors.ErrStorageUnavailable, err)
	}
	return rdb, nil
}

// RedisRepo implements AuctionStore on Redis. Each auction is a hash at
// "auction:{id}", its bids a sorted set at "auction:{id}:bids" scored by
// acceptance order, and active ids live in the "auctions:active" set.
// Compare-and-update runs inside WATCH/MULTI/EXEC on the auction hash.
type RedisRepo struct {
	rdb *redis.Client
}

// NewRedisRepo creates a RedisRepo backed by the given client
func NewRedisRepo(rdb *redis.Client) *RedisRepo {
	return &RedisRepo{rdb: rdb}
}

// redisBid is the JSON member stored in the bids sorted set
type redisBid struct {
	ID        string `json:"id"`
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"user_id"`
	Username  string `json:"username"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

func encodeAuction(a model.Auction) map[string]any {
	return map[string]any{
		"id":                a.ID,
		"title":             a.Title,
		"description":       a.Description,
		"starting_price":    a.StartingPrice.String(),
		"current_price":     a.CurrentPrice.String(),
		"current_winner":    a.CurrentWinner,
		"current_winner_id": a.CurrentWinnerID,
		"bid_count":         strconv.Itoa(a.BidCount),
		"end_time":          a.EndTime.UTC().Format(time.RFC3339Nano),
		"created_at":        a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"active":            strconv.FormatBool(a.Active),
		"owner_id":          a.OwnerID,
		"version":           strconv.FormatInt(a.Version, 10),
	}
}

func decodeAuction(vals map[string]string) (model.Auction, error) {
	a := model.Auction{
		ID:              vals["id"],
		Title:           vals["title"],
		Description:     vals["description"],
		CurrentWinner:   vals["current_winner"],
		CurrentWinnerID: vals["current_winner_id"],
		OwnerID:         vals["owner_id"],
		Active:          vals["active"] == "true",
	}

	var err error
	if a.StartingPrice, err = decimal.NewFromString(vals["starting_price"]); err != nil {
		return model.Auction{}, fmt.Errorf("decode starting_price: %w", err)
	}
	if a.CurrentPrice, err = decimal.NewFromString(vals["current_price"]); err != nil {
		return model.Auction{}, fmt.Errorf("decode current_price: %w", err)
	}
	if a.BidCount, err = strconv.Atoi(vals["bid_count"]); err != nil {
		return model.Auction{}, fmt.Errorf("decode bid_count: %w", err)
	}
	if a.Version, err = strconv.ParseInt(vals["version"], 10, 64); err != nil {
		return model.Auction{}, fmt.Errorf("decode version: %w", err)
	}
	if a.EndTime, err = time.Parse(time.RFC3339Nano, vals["end_time"]); err != nil {
		return model.Auction{}, fmt.Errorf("decode end_time: %w", err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, vals["created_at"]); err != nil {
		return model.Auction{}, fmt.Errorf("decode created_at: %w", err)
	}
	return a, nil
}

// storageErr tags driver failures so callers can tell them from domain errors
func storageErr(op string, err error) error {
	return fmt.Errorf("redis: %s: %w: %w", op, biddingerrors.ErrStorageUnavailable, err)
}

// isDomainErr reports whether err already carries one of the store's sentinels
func isDomainErr(err error) bool {
	return errors.Is(err, biddingerrors.ErrStorageUnavailable) ||
		errors.Is(err, biddingerrors.ErrAuctionNotFound) ||
		errors.Is(err, biddingerrors.ErrDuplicateID) ||
		errors.Is(err, biddingerrors.ErrVersionConflict)
}

// Create stores a new auction, failing if the id is taken
func (r *RedisRepo) Create(ctx context.Context, auction model.Auction) error {
	key := auctionKey(auction.ID)

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return storageErr("create auction", err)
		}
		if n > 0 {
			return fmt.Errorf("create auction %s: %w", auction.ID, biddingerrors.ErrDuplicateID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeAuction(auction))
			if auction.Active {
				pipe.SAdd(ctx, activeSetKey, auction.ID)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("create auction %s: raced: %w", auction.ID, biddingerrors.ErrDuplicateID)
	case isDomainErr(err):
		return err
	default:
		return storageErr("create auction", err)
	}
}

// Get returns the stored auction
func (r *RedisRepo) Get(ctx context.Context, id string) (model.Auction, error) {
	vals, err := r.rdb.HGetAll(ctx, auctionKey(id)).Result()
	if err != nil {
		return model.Auction{}, storageErr("get auction "+id, err)
	}
	if len(vals) == 0 {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
	}
	return decodeAuction(vals)
}

// CompareAndUpdate applies mutate under WATCH; a concurrent write to the
// auction hash aborts EXEC and surfaces as ErrVersionConflict.
func (r *RedisRepo) CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (model.Auction, error) {
	key := auctionKey(id)
	var updated model.Auction
	var mutErr error

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return storageErr("update auction "+id, err)
		}
		if len(vals) == 0 {
			return fmt.Errorf("update auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
		}
		current, err := decodeAuction(vals)
		if err != nil {
			return storageErr("update auction "+id, err)
		}

		next, bid, err := applyMutation(current, expectedVersion, mutate)
		if err != nil {
			mutErr = err
			return err
		}

		var member []byte
		if bid != nil {
			member, err = json.Marshal(redisBid{
				ID:        bid.ID,
				AuctionID: bid.AuctionID,
				BidderID:  bid.BidderID,
				Username:  bid.Username,
				Amount:    bid.Amount.String(),
				Timestamp: bid.Timestamp.UnixNano(),
			})
			if err != nil {
				return fmt.Errorf("encode bid: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeAuction(next))
			if member != nil {
				pipe.ZAdd(ctx, bidsKey(id), redis.Z{Score: float64(next.BidCount), Member: member})
			}
			if !next.Active {
				pipe.SRem(ctx, activeSetKey, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}, key)

	switch {
	case err == nil:
		return updated, nil
	case mutErr != nil:
		return model.Auction{}, mutErr
	case errors.Is(err, redis.TxFailedErr):
		return model.Auction{}, fmt.Errorf("update auction %s: concurrent write: %w", id, biddingerrors.ErrVersionConflict)
	case isDomainErr(err):
		return model.Auction{}, err
	default:
		return model.Auction{}, storageErr("update auction "+id, err)
	}
}

// ListActive returns every auction in the active set
func (r *RedisRepo) ListActive(ctx context.Context) ([]model.Auction, error) {
	ids, err := r.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, storageErr("list active auctions", err)
	}
	if len(ids) == 0 {
		return []model.Auction{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, auctionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list active auctions", err)
	}

	auctions := make([]model.Auction, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		a, err := decodeAuction(vals)
		if err != nil {
			return nil, storageErr("list active auctions", err)
		}
		if a.Active {
			auctions = append(auctions, a)
		}
	}
	sortAuctions(auctions)
	return auctions, nil
}

// ListBids returns up to limit bids, newest first. limit <= 0 returns all.
func (r *RedisRepo) ListBids(ctx context.Context, auctionID string, limit int) ([]model.Bid, error) {
	n, err := r.rdb.Exists(ctx, auctionKey(auctionID)).Result()
	if err != nil {
		return nil, storageErr("list bids", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("list bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := r.rdb.ZRevRange(ctx, bidsKey(auctionID), 0, stop).Result()
	if err != nil {
		return nil, storageErr("list bids", err)
	}

	bids := make([]model.Bid, 0, len(members))
	for _, m := range members {
		var rb redisBid
		if err := json.Unmarshal([]byte(m), &rb); err != nil {
			return nil, storageErr("decode bid", err)
		}
		amount, err := decimal.NewFromString(rb.Amount)
		if err != nil {
			return nil, storageErr("decode bid amount", err)
		}
		bids = append(bids, model.Bid{
			ID:        rb.ID,
			AuctionID: rb.AuctionID,
			BidderID:  rb.BidderID,
			Username:  rb.Username,
			Amount:    amount,
			Timestamp: time.Unix(0, rb.Timestamp).UTC(),
		})
	}
	return bids, nil
}

// Ping checks the Redis connection
func (r *RedisRepo) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return storageErr("ping", err)
	}
	return nil
}
