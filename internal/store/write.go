package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

// InsertItem adds a new item. Category and factors are normalized, a zero
// version is stored as 1, and an empty status as waiting.
// Uses ON CONFLICT(id) DO NOTHING; inserted reports whether a row was added.
func (s *Store) InsertItem(ctx context.Context, it domain.WaitingItem) (inserted bool, err error) {
	factors := make([]domain.Factor, 0, len(it.Factors))
	for _, f := range it.Factors {
		factors = append(factors, domain.NormalizeFactor(string(f)))
	}
	factorsJSON, err := marshalFactors(factors)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	if it.Status == "" {
		it.Status = domain.StatusWaiting
	}
	if it.Version == 0 {
		it.Version = 1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items
		(id, category, arrived_at, factors, status, score, worker_id, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		it.ID,
		string(domain.NormalizeCategory(string(it.Category))),
		toUnixNano(it.ArrivedAt),
		factorsJSON,
		string(it.Status),
		it.Score,
		nullString(it.WorkerID),
		it.Version,
	)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert item: rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertWorker adds a new worker. Specializations are normalized.
// Uses ON CONFLICT(id) DO NOTHING; inserted reports whether a row was added.
func (s *Store) InsertWorker(ctx context.Context, w domain.Worker) (inserted bool, err error) {
	specs := make([]domain.Category, 0, len(w.Specializations))
	for _, c := range w.Specializations {
		specs = append(specs, domain.NormalizeCategory(string(c)))
	}
	specsJSON, err := marshalSpecializations(specs)
	if err != nil {
		return false, fmt.Errorf("insert worker: %w", err)
	}
	if w.Availability == "" {
		w.Availability = domain.AvailabilityOffline
	}
	if w.Version == 0 {
		w.Version = 1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workers
		(id, availability, current_item_id, specializations, version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		w.ID,
		string(w.Availability),
		nullString(w.CurrentItemID),
		specsJSON,
		w.Version,
	)
	if err != nil {
		return false, fmt.Errorf("insert worker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert worker: rows affected: %w", err)
	}
	return n > 0, nil
}

// Write is one versioned row update inside a Commit. Exactly one of Item
// and Worker is set. ExpectedVersion is the version the writer read; on
// success the stored version becomes ExpectedVersion+1.
type Write struct {
	ExpectedVersion int64
	Item            *domain.WaitingItem
	Worker          *domain.Worker
}

// Ref returns the entity the write targets.
func (w Write) Ref() domain.EntityRef {
	if w.Item != nil {
		return w.Item.Ref()
	}
	if w.Worker != nil {
		return w.Worker.Ref()
	}
	return domain.EntityRef{}
}

// Commit applies writes in one transaction. It returns false, writing
// nothing, if any row's stored version differs from its ExpectedVersion.
//
// Only mutable columns are written: status, score and worker for items;
// availability and current item for workers. Identity, category, arrival
// and specializations never change after insert.
func (s *Store) Commit(ctx context.Context, writes []Write) (bool, error) {
	if len(writes) == 0 {
		return true, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, w := range writes {
		var res sql.Result
		switch {
		case w.Item != nil:
			res, err = tx.ExecContext(ctx, `
				UPDATE items
				SET status = ?, score = ?, worker_id = ?, version = version + 1
				WHERE id = ? AND version = ?
			`,
				string(w.Item.Status),
				w.Item.Score,
				nullString(w.Item.WorkerID),
				w.Item.ID,
				w.ExpectedVersion,
			)
		case w.Worker != nil:
			res, err = tx.ExecContext(ctx, `
				UPDATE workers
				SET availability = ?, current_item_id = ?, version = version + 1
				WHERE id = ? AND version = ?
			`,
				string(w.Worker.Availability),
				nullString(w.Worker.CurrentItemID),
				w.Worker.ID,
				w.ExpectedVersion,
			)
		default:
			return false, fmt.Errorf("commit: write has neither item nor worker")
		}
		if err != nil {
			return false, fmt.Errorf("commit %s: %w", w.Ref().Key(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("commit %s: rows affected: %w", w.Ref().Key(), err)
		}
		if n != 1 {
			return false, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// CommitWithVersion is the single-entity form of Commit. newState must be a
// domain.WaitingItem or domain.Worker whose ID matches ref.
func (s *Store) CommitWithVersion(ctx context.Context, ref domain.EntityRef, expected int64, newState any) (bool, error) {
	w := Write{ExpectedVersion: expected}
	switch v := newState.(type) {
	case domain.WaitingItem:
		w.Item = &v
	case domain.Worker:
		w.Worker = &v
	default:
		return false, fmt.Errorf("commit with version: unsupported state %T", newState)
	}
	if got := w.Ref(); got.Kind != ref.Kind || got.ID != ref.ID {
		return false, fmt.Errorf("commit with version: state %s does not match %s", got.Key(), ref.Key())
	}
	return s.Commit(ctx, []Write{w})
}

// ErrSeqTaken reports that a journal sequence number is already held by
// a different event, typically one written by another process.
var ErrSeqTaken = errors.New("event sequence number taken")

// appendAttempts bounds AppendNextEvent's retries when other writers keep
// taking the next number.
const appendAttempts = 8

// AppendEvent journals one event at rec.Seq. Appending the same event
// twice is harmless; a seq held by another event is ErrSeqTaken.
func (s *Store) AppendEvent(ctx context.Context, rec EventRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (seq, id, type, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		rec.Seq,
		rec.ID,
		rec.Type,
		string(rec.Body),
		toUnixNano(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append event %d: %w", rec.Seq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append event %d: %w", rec.Seq, err)
	}
	if n == 1 {
		return nil
	}

	var holder string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM events WHERE seq = ?`, rec.Seq).Scan(&holder)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("append event %d: id %s already journaled at another seq", rec.Seq, rec.ID)
	case err != nil:
		return fmt.Errorf("append event %d: %w", rec.Seq, err)
	case holder != rec.ID:
		return fmt.Errorf("append event %d: %w by %s", rec.Seq, ErrSeqTaken, holder)
	}
	return nil
}

// AppendNextEvent journals an event at the next free sequence number and
// returns the stored record. build receives the number; it runs again with
// a later number when another writer sharing the database takes it first.
func (s *Store) AppendNextEvent(ctx context.Context, build func(seq int64) (EventRecord, error)) (EventRecord, error) {
	for attempt := 1; ; attempt++ {
		last, err := s.MaxEventSeq(ctx)
		if err != nil {
			return EventRecord{}, err
		}
		rec, err := build(last + 1)
		if err != nil {
			return EventRecord{}, err
		}
		err = s.AppendEvent(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrSeqTaken) || attempt == appendAttempts {
			return EventRecord{}, err
		}
	}
}
