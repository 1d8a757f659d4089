package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pgUniqueViolation is the SQLSTATE for duplicate keys
const pgUniqueViolation = "23505"

// OpenPostgres creates a pgx pool for dsn and pings it
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w: %w", biddingerrors.ErrStorageUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w: %w", biddingerrors.ErrStorageUnavailable, err)
	}
	return pool, nil
}

// PostgresRepo implements AuctionStore on PostgreSQL. Compare-and-update is a
// version-guarded UPDATE plus the bid insert inside one transaction.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo creates a PostgresRepo backed by the given pool
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// Migrate applies the embedded schema files in name order
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("postgres: list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}
		if _, err := r.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
	}
	return nil
}

func pgStorageErr(op string, err error) error {
	return fmt.Errorf("postgres: %s: %w: %w", op, biddingerrors.ErrStorageUnavailable, err)
}

const auctionSelectCols = `id, title, description, starting_price::text, current_price::text,
	current_winner, current_winner_id, bid_count, end_time, created_at, active, owner_id, version`

func scanAuction(row pgx.Row) (model.Auction, error) {
	var a model.Auction
	var startingPrice, currentPrice string

	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &startingPrice, &currentPrice,
		&a.CurrentWinner, &a.CurrentWinnerID, &a.BidCount, &a.EndTime, &a.CreatedAt,
		&a.Active, &a.OwnerID, &a.Version,
	)
	if err != nil {
		return model.Auction{}, err
	}

	if a.StartingPrice, err = decimal.NewFromString(startingPrice); err != nil {
		return model.Auction{}, fmt.Errorf("decode starting_price: %w", err)
	}
	if a.CurrentPrice, err = decimal.NewFromString(currentPrice); err != nil {
		return model.Auction{}, fmt.Errorf("decode current_price: %w", err)
	}
	a.EndTime = a.EndTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// Create inserts a new auction
func (r *PostgresRepo) Create(ctx context.Context, a model.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, title, description, starting_price, current_price,
			current_winner, current_winner_id, bid_count, end_time, created_at,
			active, owner_id, version
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Title, a.Description, a.StartingPrice.String(), a.CurrentPrice.String(),
		a.CurrentWinner, a.CurrentWinnerID, a.BidCount, a.EndTime, a.CreatedAt,
		a.Active, a.OwnerID, a.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("create auction %s: %w", a.ID, biddingerrors.ErrDuplicateID)
		}
		return pgStorageErr("create auction "+a.ID, err)
	}
	return nil
}

// Get returns the stored auction
func (r *PostgresRepo) Get(ctx context.Context, id string) (model.Auction, error) {
	a, err := scanAuction(r.pool.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, pgStorageErr("get auction "+id, err)
	}
	return a, nil
}

// CompareAndUpdate applies mutate and writes it back only while the row still
// carries expectedVersion
func (r *PostgresRepo) CompareAndUpdate(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (model.Auction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Auction{}, pgStorageErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanAuction(tx.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("update auction %s: %w", id, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, pgStorageErr("update auction "+id, err)
	}

	next, bid, err := applyMutation(current, expectedVersion, mutate)
	if err != nil {
		return model.Auction{}, err
	}

	const update = `
		UPDATE auctions
		SET current_price = $3::numeric, current_winner = $4, current_winner_id = $5,
			bid_count = $6, active = $7, version = $8
		WHERE id = $1 AND version = $2`

	tag, err := tx.Exec(ctx, update,
		id, expectedVersion, next.CurrentPrice.String(), next.CurrentWinner, next.CurrentWinnerID,
		next.BidCount, next.Active, next.Version,
	)
	if err != nil {
		return model.Auction{}, pgStorageErr("update auction "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.Auction{}, fmt.Errorf("update auction %s: concurrent write: %w", id, biddingerrors.ErrVersionConflict)
	}

	if bid != nil {
		const insert = `
			INSERT INTO bids (id, auction_id, seq, bidder_id, username, amount, placed_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)`
		if _, err := tx.Exec(ctx, insert,
			bid.ID, id, next.BidCount, bid.BidderID, bid.Username, bid.Amount.String(), bid.Timestamp,
		); err != nil {
			return model.Auction{}, pgStorageErr("insert bid", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Auction{}, pgStorageErr("commit", err)
	}
	return next, nil
}

// ListActive returns every auction still accepting bids
func (r *PostgresRepo) ListActive(ctx context.Context) ([]model.Auction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE active ORDER BY created_at, id`)
	if err != nil {
		return nil, pgStorageErr("list active auctions", err)
	}
	defer rows.Close()

	auctions := []model.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, pgStorageErr("scan auction", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, pgStorageErr("list active auctions", err)
	}
	return auctions, nil
}

// ListBids returns up to limit bids, newest first. limit <= 0 returns all.
func (r *PostgresRepo) ListBids(ctx context.Context, auctionID string, limit int) ([]model.Bid, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, auctionID).Scan(&exists); err != nil {
		return nil, pgStorageErr("list bids", err)
	}
	if !exists {
		return nil, fmt.Errorf("list bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	query := `SELECT id, auction_id, bidder_id, username, amount::text, placed_at
		FROM bids WHERE auction_id = $1 ORDER BY seq DESC`
	args := []any{auctionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgStorageErr("list bids", err)
	}
	defer rows.Close()

	bids := []model.Bid{}
	for rows.Next() {
		var b model.Bid
		var amount string
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Username, &amount, &b.Timestamp); err != nil {
			return nil, pgStorageErr("scan bid", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, pgStorageErr("decode bid amount", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, pgStorageErr("list bids", err)
	}
	return bids, nil
}

// Ping checks the database connection
func (r *PostgresRepo) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return pgStorageErr("ping", err)
	}
	return nil
}
