package guard

import (
	"fmt"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
)

// Tx holds the working copies of one guarded attempt.
//
// Pointers returned by Item and Worker stay valid after Do returns; on a
// successful commit their Version reflects the stored version.
type Tx struct {
	refs     []domain.EntityRef
	items    map[string]*domain.WaitingItem
	workers  map[string]*domain.Worker
	versions map[string]int64
	after    []func()
}

func newTx(refs []domain.EntityRef, snap store.Snapshot) *Tx {
	tx := &Tx{
		refs:     refs,
		items:    make(map[string]*domain.WaitingItem, len(snap.Items)),
		workers:  make(map[string]*domain.Worker, len(snap.Workers)),
		versions: make(map[string]int64, len(refs)),
	}
	for id, it := range snap.Items {
		c := it.Clone()
		tx.items[id] = &c
		tx.versions[it.Ref().Key()] = it.Version
	}
	for id, w := range snap.Workers {
		c := w.Clone()
		tx.workers[id] = &c
		tx.versions[w.Ref().Key()] = w.Version
	}
	return tx
}

// Item returns the working copy of a locked item.
func (tx *Tx) Item(id string) (*domain.WaitingItem, error) {
	it, ok := tx.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s is not in the guarded set", id)
	}
	return it, nil
}

// Worker returns the working copy of a locked worker.
func (tx *Tx) Worker(id string) (*domain.Worker, error) {
	w, ok := tx.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s is not in the guarded set", id)
	}
	return w, nil
}

// OnCommit registers f to run once the attempt commits, before the entity
// locks are released. Mutations use it to publish their event so events
// for one entity follow its version order.
func (tx *Tx) OnCommit(f func()) {
	tx.after = append(tx.after, f)
}

// writes builds the CAS batch. Expected versions come from the load, not
// from the working copies.
func (tx *Tx) writes() []store.Write {
	out := make([]store.Write, 0, len(tx.refs))
	for _, ref := range tx.refs {
		w := store.Write{ExpectedVersion: tx.versions[ref.Key()]}
		switch ref.Kind {
		case domain.KindItem:
			w.Item = tx.items[ref.ID]
		case domain.KindWorker:
			w.Worker = tx.workers[ref.ID]
		}
		out = append(out, w)
	}
	return out
}

func (tx *Tx) committed() {
	for _, it := range tx.items {
		it.Version = tx.versions[it.Ref().Key()] + 1
	}
	for _, w := range tx.workers {
		w.Version = tx.versions[w.Ref().Key()] + 1
	}
}
