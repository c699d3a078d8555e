package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/efreitasn/minicheckout/internal/domain"
	"github.com/google/btree"
)

// ledgerEntry holds the counters for a single (variant, warehouse)
// position. Each entry carries its own mutex; multi-line operations
// acquire entry locks in StockKey order.
type ledgerEntry struct {
	key      domain.StockKey
	mu       sync.Mutex
	onHand   int64
	reserved int64
}

// available must be called with the entry's mutex held.
func (e *ledgerEntry) available() int64 {
	return e.onHand - e.reserved
}

// PositionView is a read-only snapshot of one ledger position.
type PositionView struct {
	VariantID   string
	WarehouseID string
	OnHand      int64
	Reserved    int64
	Available   int64
}

// Ledger is the single source of truth for sellable inventory. Positions
// are indexed by a B-tree ordered by (variant_id, warehouse_id), which is
// also the order in which every multi-position operation acquires its
// entry locks — two overlapping reserve calls can never wait on each
// other in a cycle.
//
// Counters are mutated only through Reserve, Release, Commit, and
// SetOnHand; there is no direct counter access.
type Ledger struct {
	mu    sync.RWMutex // guards tree and index structure, not the counters
	tree  *btree.BTreeG[*ledgerEntry]
	index map[domain.StockKey]*ledgerEntry

	resMu        sync.Mutex
	reservations map[string][]*domain.StockReservation // lock_id → holds
}

// NewLedger creates an empty reservation ledger.
func NewLedger() *Ledger {
	const degree = 32
	return &Ledger{
		tree: btree.NewG[*ledgerEntry](degree, func(a, b *ledgerEntry) bool {
			return a.key.Less(b.key)
		}),
		index:        make(map[domain.StockKey]*ledgerEntry),
		reservations: make(map[string][]*domain.StockReservation),
	}
}

// getOrCreate returns the entry for key, creating a zero entry if none
// exists.
func (l *Ledger) getOrCreate(key domain.StockKey) *ledgerEntry {
	l.mu.RLock()
	e, ok := l.index[key]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.index[key]; ok {
		return e
	}
	e = &ledgerEntry{key: key}
	l.index[key] = e
	l.tree.ReplaceOrInsert(e)
	return e
}

// Reserve debits available stock for every requested line as one atomic
// unit, recording the resulting holds under lockID. If any single line
// cannot be satisfied, nothing is reserved and the returned
// InsufficientStockError lists every short line with its shortfall.
//
// Lines targeting the same (variant, warehouse) are merged before
// locking, and entry locks are acquired in StockKey order.
func (l *Ledger) Reserve(lockID string, lines []domain.ReservationLine) error {
	if len(lines) == 0 {
		return nil
	}

	// Merge duplicate positions so each entry lock is taken once.
	merged := make(map[domain.StockKey]int64, len(lines))
	for _, line := range lines {
		merged[line.Key()] += line.Quantity
	}

	keys := make([]domain.StockKey, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	entries := make([]*ledgerEntry, len(keys))
	for i, k := range keys {
		entries[i] = l.getOrCreate(k)
	}

	for _, e := range entries {
		e.mu.Lock()
	}
	defer func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
	}()

	// First pass: collect every shortfall before touching any counter.
	var short []domain.StockShortfall
	for i, e := range entries {
		qty := merged[keys[i]]
		if e.available() < qty {
			short = append(short, domain.StockShortfall{
				VariantID:   e.key.VariantID,
				WarehouseID: e.key.WarehouseID,
				Requested:   qty,
				Available:   e.available(),
				Shortfall:   qty - e.available(),
			})
		}
	}
	if len(short) > 0 {
		return &domain.InsufficientStockError{Lines: short}
	}

	// Second pass: debit and record the holds.
	holds := make([]*domain.StockReservation, 0, len(entries))
	for i, e := range entries {
		qty := merged[keys[i]]
		e.reserved += qty
		holds = append(holds, domain.NewStockReservation(lockID, domain.ReservationLine{
			VariantID:   e.key.VariantID,
			WarehouseID: e.key.WarehouseID,
			Quantity:    qty,
		}))
	}

	l.resMu.Lock()
	l.reservations[lockID] = append(l.reservations[lockID], holds...)
	l.resMu.Unlock()

	return nil
}

// Release returns every hold owned by lockID back to available stock.
// It is idempotent: releasing a lock with no outstanding holds is a
// no-op. A release that would drive a reserved counter negative means a
// broken invariant elsewhere and panics.
func (l *Ledger) Release(lockID string) {
	l.apply(lockID, func(e *ledgerEntry, qty int64) {
		e.reserved -= qty
		if e.reserved < 0 {
			panic(fmt.Sprintf("ledger: reserved underflow on release of %s/%s", e.key.VariantID, e.key.WarehouseID))
		}
	})
}

// Commit converts every hold owned by lockID into a permanent on-hand
// deduction. Used only when the owning lock completes. Idempotent for
// the same reason Release is.
func (l *Ledger) Commit(lockID string) {
	l.apply(lockID, func(e *ledgerEntry, qty int64) {
		e.onHand -= qty
		e.reserved -= qty
		if e.onHand < 0 || e.reserved < 0 {
			panic(fmt.Sprintf("ledger: counter underflow on commit of %s/%s", e.key.VariantID, e.key.WarehouseID))
		}
	})
}

// apply takes ownership of lockID's holds and applies fn to each hold's
// entry, with all entry locks held in StockKey order. Taking the holds
// out of the map first is what makes Release/Commit race-free against
// each other: only one caller ever sees them.
func (l *Ledger) apply(lockID string, fn func(e *ledgerEntry, qty int64)) {
	l.resMu.Lock()
	holds := l.reservations[lockID]
	delete(l.reservations, lockID)
	l.resMu.Unlock()

	if len(holds) == 0 {
		return
	}

	sort.Slice(holds, func(i, j int) bool {
		ki := domain.StockKey{VariantID: holds[i].VariantID, WarehouseID: holds[i].WarehouseID}
		kj := domain.StockKey{VariantID: holds[j].VariantID, WarehouseID: holds[j].WarehouseID}
		return ki.Less(kj)
	})

	// Resolve every entry before taking any entry lock.
	entries := make([]*ledgerEntry, len(holds))
	for i, h := range holds {
		entries[i] = l.getOrCreate(domain.StockKey{VariantID: h.VariantID, WarehouseID: h.WarehouseID})
	}
	for _, e := range entries {
		e.mu.Lock()
	}
	for i, h := range holds {
		fn(entries[i], h.Quantity)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].mu.Unlock()
	}
}

// SetOnHand sets the physical stock count for a position. It refuses to
// set on-hand below the currently reserved quantity, since that would
// break the availability invariant for active checkouts.
func (l *Ledger) SetOnHand(variantID, warehouseID string, onHand int64) error {
	if onHand < 0 {
		return &domain.ValidationError{Message: "on_hand must be >= 0"}
	}
	e := l.getOrCreate(domain.StockKey{VariantID: variantID, WarehouseID: warehouseID})
	e.mu.Lock()
	defer e.mu.Unlock()

	if onHand < e.reserved {
		return domain.ErrStockBelowReserved
	}
	e.onHand = onHand
	return nil
}

// Available returns on_hand - reserved for a position, or 0 for a
// position the ledger has never seen.
func (l *Ledger) Available(variantID, warehouseID string) int64 {
	l.mu.RLock()
	e, ok := l.index[domain.StockKey{VariantID: variantID, WarehouseID: warehouseID}]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available()
}

// Position returns the counters for a single position.
func (l *Ledger) Position(variantID, warehouseID string) (PositionView, bool) {
	l.mu.RLock()
	e, ok := l.index[domain.StockKey{VariantID: variantID, WarehouseID: warehouseID}]
	l.mu.RUnlock()
	if !ok {
		return PositionView{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return PositionView{
		VariantID:   e.key.VariantID,
		WarehouseID: e.key.WarehouseID,
		OnHand:      e.onHand,
		Reserved:    e.reserved,
		Available:   e.available(),
	}, true
}

// Positions returns a snapshot of every ledger position ordered by
// (variant_id, warehouse_id).
func (l *Ledger) Positions() []PositionView {
	// Collect entries under the structure lock, read counters after
	// releasing it so no entry lock is ever taken while holding l.mu.
	l.mu.RLock()
	entries := make([]*ledgerEntry, 0, l.tree.Len())
	l.tree.Ascend(func(e *ledgerEntry) bool {
		entries = append(entries, e)
		return true
	})
	l.mu.RUnlock()

	views := make([]PositionView, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		views = append(views, PositionView{
			VariantID:   e.key.VariantID,
			WarehouseID: e.key.WarehouseID,
			OnHand:      e.onHand,
			Reserved:    e.reserved,
			Available:   e.available(),
		})
		e.mu.Unlock()
	}
	return views
}

// ReservationsFor returns a copy of the outstanding holds owned by
// lockID, for the observability surface. Empty once the lock has been
// released or committed.
func (l *Ledger) ReservationsFor(lockID string) []*domain.StockReservation {
	l.resMu.Lock()
	defer l.resMu.Unlock()

	holds := l.reservations[lockID]
	out := make([]*domain.StockReservation, len(holds))
	copy(out, holds)
	return out
}
