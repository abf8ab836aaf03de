package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

// ItemFilter narrows ReadWaitingItems.
type ItemFilter struct {
	// Category restricts to one category when non-empty.
	Category domain.Category

	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// WorkerFilter narrows ReadWorkers.
type WorkerFilter struct {
	// Availability restricts to one state when non-empty.
	Availability domain.Availability
}

const itemColumns = `id, category, arrived_at, factors, status, score, worker_id, version`

// Load is derived from owned items rather than stored.
const workerColumns = `w.id, w.availability, w.current_item_id, w.specializations, w.version,
	(SELECT COUNT(*) FROM items i
	 WHERE i.worker_id = w.id AND i.status IN ('assigned', 'in_service')) AS item_load`

// ReadWaitingItems returns items in status waiting, oldest arrival first.
// Results are ordered deterministically: ORDER BY arrived_at ASC, id ASC.
//
// Returns an empty slice (not nil) if nothing is waiting.
func (s *Store) ReadWaitingItems(ctx context.Context, f ItemFilter) ([]domain.WaitingItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE status = ?`
	args := []any{string(domain.StatusWaiting)}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(domain.NormalizeCategory(string(f.Category))))
	}
	query += ` ORDER BY arrived_at ASC, id COLLATE BINARY ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query waiting items: %w", err)
	}
	defer rows.Close()

	items := []domain.WaitingItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waiting items: %w", err)
	}
	return items, nil
}

// CountWaiting returns the number of waiting items in category, or in all
// categories when category is empty.
func (s *Store) CountWaiting(ctx context.Context, category domain.Category) (int, error) {
	query := `SELECT COUNT(*) FROM items WHERE status = ?`
	args := []any{string(domain.StatusWaiting)}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, string(domain.NormalizeCategory(string(category))))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count waiting: %w", err)
	}
	return n, nil
}

// ReadItem retrieves a single item by ID.
// Returns a domain not-found error if it does not exist.
func (s *Store) ReadItem(ctx context.Context, id string) (domain.WaitingItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WaitingItem{}, domain.NewNotFoundError(domain.ItemRef(id))
	}
	return it, err
}

// ReadWorkers returns workers ordered by id.
func (s *Store) ReadWorkers(ctx context.Context, f WorkerFilter) ([]domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers w`
	var args []any
	if f.Availability != "" {
		query += ` WHERE w.availability = ?`
		args = append(args, string(f.Availability))
	}
	query += ` ORDER BY w.id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close()

	workers := []domain.Worker{}
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return workers, nil
}

// ReadWorker retrieves a single worker by ID.
func (s *Store) ReadWorker(ctx context.Context, id string) (domain.Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers w WHERE w.id = ?`, id)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Worker{}, domain.NewNotFoundError(domain.WorkerRef(id))
	}
	return w, err
}

// Snapshot holds entities read together by Load.
type Snapshot struct {
	Items   map[string]domain.WaitingItem
	Workers map[string]domain.Worker
}

// Load reads every referenced entity inside one read transaction so the
// versions form a consistent snapshot. A missing entity is a not-found error.
func (s *Store) Load(ctx context.Context, refs []domain.EntityRef) (Snapshot, error) {
	snap := Snapshot{
		Items:   make(map[string]domain.WaitingItem),
		Workers: make(map[string]domain.Worker),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snap, fmt.Errorf("load: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, ref := range refs {
		switch ref.Kind {
		case domain.KindItem:
			row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, ref.ID)
			it, err := scanItem(row)
			if errors.Is(err, sql.ErrNoRows) {
				return snap, domain.NewNotFoundError(ref)
			}
			if err != nil {
				return snap, fmt.Errorf("load %s: %w", ref.Key(), err)
			}
			snap.Items[it.ID] = it
		case domain.KindWorker:
			row := tx.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers w WHERE w.id = ?`, ref.ID)
			w, err := scanWorker(row)
			if errors.Is(err, sql.ErrNoRows) {
				return snap, domain.NewNotFoundError(ref)
			}
			if err != nil {
				return snap, fmt.Errorf("load %s: %w", ref.Key(), err)
			}
			snap.Workers[w.ID] = w
		default:
			return snap, fmt.Errorf("load: unknown entity kind %q", ref.Kind)
		}
	}
	return snap, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (domain.WaitingItem, error) {
	var (
		it          domain.WaitingItem
		category    string
		arrived     int64
		factorsJSON string
		status      string
		workerID    sql.NullString
	)
	err := row.Scan(&it.ID, &category, &arrived, &factorsJSON, &status, &it.Score, &workerID, &it.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return it, err
		}
		return it, fmt.Errorf("scan item: %w", err)
	}
	factors, err := unmarshalFactors(factorsJSON)
	if err != nil {
		return it, fmt.Errorf("scan item %s: %w", it.ID, err)
	}
	it.Category = domain.Category(category)
	it.ArrivedAt = fromUnixNano(arrived)
	it.Factors = factors
	it.Status = domain.Status(status)
	it.WorkerID = workerID.String
	return it, nil
}

func scanWorker(row scanner) (domain.Worker, error) {
	var (
		w         domain.Worker
		avail     string
		current   sql.NullString
		specsJSON string
	)
	err := row.Scan(&w.ID, &avail, &current, &specsJSON, &w.Version, &w.Load)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return w, err
		}
		return w, fmt.Errorf("scan worker: %w", err)
	}
	specs, err := unmarshalSpecializations(specsJSON)
	if err != nil {
		return w, fmt.Errorf("scan worker %s: %w", w.ID, err)
	}
	w.Availability = domain.Availability(avail)
	w.CurrentItemID = current.String
	w.Specializations = specs
	return w, nil
}
