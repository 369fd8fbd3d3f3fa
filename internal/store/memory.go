package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reglament/internal/ledger"
)

// Memory is a process-local Store. Every returned entity is a copy, so
// callers can mutate results freely.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	seq       int64
	users     map[int64]ledger.User // by telegram id
	ops       map[int64]*ledger.Operation
	reminders map[int64]*ledger.Reminder
}

func NewMemory() *Memory {
	return &Memory{data: &memData{
		users:     map[int64]ledger.User{},
		ops:       map[int64]*ledger.Operation{},
		reminders: map[int64]*ledger.Reminder{},
	}}
}

func (m *Memory) Users() Users           { return memLocked{m: m} }
func (m *Memory) Operations() Operations { return memLocked{m: m} }
func (m *Memory) Reminders() Reminders   { return memLockedReminders{memLocked{m: m}} }
func (m *Memory) Close() error           { return nil }

// Tx works on a shallow copy of the indexes and swaps it in only when fn
// succeeds. Stored entities are replaced on write and never modified in
// place, so sharing them with the copy is safe.
func (m *Memory) Tx(ctx context.Context, fn func(tx Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.data.clone()
	if err := fn(memTx{d: work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

// memLocked serialises single calls outside a transaction. Each data
// operation checks before it writes, so a failed call leaves no trace.
type memLocked struct{ m *Memory }

func (l memLocked) do(fn func(d *memData) error) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return fn(l.m.data)
}

func (l memLocked) read(fn func(d *memData) error) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return fn(l.m.data)
}

func (l memLocked) Exists(ctx context.Context, tg int64) (ok bool, err error) {
	err = l.read(func(d *memData) error { ok, err = d.exists(tg); return err })
	return ok, err
}

func (l memLocked) Ensure(ctx context.Context, tg int64) (u *ledger.User, created bool, err error) {
	err = l.do(func(d *memData) error { u, created, err = d.ensure(tg); return err })
	return u, created, err
}

func (l memLocked) Get(ctx context.Context, id int64) (op *ledger.Operation, err error) {
	err = l.read(func(d *memData) error { op, err = d.getOp(id); return err })
	return op, err
}

func (l memLocked) GetWithDetails(ctx context.Context, id int64) (op *ledger.Operation, rs []*ledger.Reminder, err error) {
	err = l.read(func(d *memData) error { op, rs, err = d.getOpDetails(id); return err })
	return op, rs, err
}

func (l memLocked) ListPending(ctx context.Context, afterID int64, limit int) (ops []*ledger.Operation, err error) {
	err = l.read(func(d *memData) error { ops = d.listPending(afterID, limit); return nil })
	return ops, err
}

func (l memLocked) ListByOwner(ctx context.Context, owner int64, from, to time.Time) (ops []*ledger.Operation, err error) {
	err = l.read(func(d *memData) error { ops = d.listByOwner(owner, from, to); return nil })
	return ops, err
}

func (l memLocked) Insert(ctx context.Context, op *ledger.Operation) error {
	return l.do(func(d *memData) error { return d.insertOp(op) })
}

func (l memLocked) Update(ctx context.Context, op *ledger.Operation) error {
	return l.do(func(d *memData) error { return d.updateOp(op) })
}

func (l memLocked) Delete(ctx context.Context, id int64) error {
	return l.do(func(d *memData) error { return d.deleteOp(id) })
}

// memTx exposes repositories bound to a transaction's working copy.
type memTx struct{ d *memData }

func (t memTx) Users() Users           { return memTxRepo(t) }
func (t memTx) Operations() Operations { return memTxRepo(t) }
func (t memTx) Reminders() Reminders   { return memTxReminders(t) }

type memTxRepo struct{ d *memData }

func (r memTxRepo) Exists(_ context.Context, tg int64) (bool, error) { return r.d.exists(tg) }
func (r memTxRepo) Ensure(_ context.Context, tg int64) (*ledger.User, bool, error) {
	return r.d.ensure(tg)
}
func (r memTxRepo) Get(_ context.Context, id int64) (*ledger.Operation, error) { return r.d.getOp(id) }
func (r memTxRepo) GetWithDetails(_ context.Context, id int64) (*ledger.Operation, []*ledger.Reminder, error) {
	return r.d.getOpDetails(id)
}
func (r memTxRepo) ListPending(_ context.Context, afterID int64, limit int) ([]*ledger.Operation, error) {
	return r.d.listPending(afterID, limit), nil
}
func (r memTxRepo) ListByOwner(_ context.Context, owner int64, from, to time.Time) ([]*ledger.Operation, error) {
	return r.d.listByOwner(owner, from, to), nil
}
func (r memTxRepo) Insert(_ context.Context, op *ledger.Operation) error { return r.d.insertOp(op) }
func (r memTxRepo) Update(_ context.Context, op *ledger.Operation) error { return r.d.updateOp(op) }
func (r memTxRepo) Delete(_ context.Context, id int64) error             { return r.d.deleteOp(id) }

type memTxReminders struct{ d *memData }

func (r memTxReminders) Get(_ context.Context, id int64) (*ledger.Reminder, error) {
	return r.d.getReminder(id)
}
func (r memTxReminders) GetWithOperation(_ context.Context, id int64) (*ledger.Reminder, *ledger.Operation, error) {
	return r.d.getReminderWithOp(id)
}
func (r memTxReminders) ListByOperation(_ context.Context, opID int64) ([]*ledger.Reminder, error) {
	return r.d.listReminders(opID), nil
}
func (r memTxReminders) Insert(_ context.Context, rem *ledger.Reminder) error {
	return r.d.insertReminder(rem)
}
func (r memTxReminders) Update(_ context.Context, rem *ledger.Reminder) error {
	return r.d.updateReminder(rem)
}
func (r memTxReminders) Delete(_ context.Context, id int64) error { return r.d.deleteReminder(id) }

// memLockedReminders shares memLocked's locking; the method names clash with
// the operation repository.
type memLockedReminders struct{ memLocked }

func (l memLockedReminders) Get(ctx context.Context, id int64) (r *ledger.Reminder, err error) {
	err = l.read(func(d *memData) error { r, err = d.getReminder(id); return err })
	return r, err
}

func (l memLockedReminders) GetWithOperation(ctx context.Context, id int64) (r *ledger.Reminder, op *ledger.Operation, err error) {
	err = l.read(func(d *memData) error { r, op, err = d.getReminderWithOp(id); return err })
	return r, op, err
}

func (l memLockedReminders) ListByOperation(ctx context.Context, opID int64) (rs []*ledger.Reminder, err error) {
	err = l.read(func(d *memData) error { rs = d.listReminders(opID); return nil })
	return rs, err
}

func (l memLockedReminders) Insert(ctx context.Context, r *ledger.Reminder) error {
	return l.do(func(d *memData) error { return d.insertReminder(r) })
}

func (l memLockedReminders) Update(ctx context.Context, r *ledger.Reminder) error {
	return l.do(func(d *memData) error { return d.updateReminder(r) })
}

func (l memLockedReminders) Delete(ctx context.Context, id int64) error {
	return l.do(func(d *memData) error { return d.deleteReminder(id) })
}

// ---- data operations (caller holds the lock or owns the copy) ----

func (d *memData) next() int64 { d.seq++; return d.seq }

func (d *memData) clone() *memData {
	c := &memData{
		seq:       d.seq,
		users:     make(map[int64]ledger.User, len(d.users)),
		ops:       make(map[int64]*ledger.Operation, len(d.ops)),
		reminders: make(map[int64]*ledger.Reminder, len(d.reminders)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.ops {
		c.ops[k] = v
	}
	for k, v := range d.reminders {
		c.reminders[k] = v
	}
	return c
}

func (d *memData) exists(tg int64) (bool, error) {
	_, ok := d.users[tg]
	return ok, nil
}

func (d *memData) ensure(tg int64) (*ledger.User, bool, error) {
	if u, ok := d.users[tg]; ok {
		return &u, false, nil
	}
	u := ledger.User{ID: d.next(), TelegramID: tg, CreatedAt: time.Now().UTC()}
	d.users[tg] = u
	return &u, true, nil
}

func (d *memData) getOp(id int64) (*ledger.Operation, error) {
	op, ok := d.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %d: %w", id, ErrNotFound)
	}
	return copyOp(op), nil
}

func (d *memData) getOpDetails(id int64) (*ledger.Operation, []*ledger.Reminder, error) {
	op, err := d.getOp(id)
	if err != nil {
		return nil, nil, err
	}
	return op, d.listReminders(id), nil
}

func (d *memData) sortedOps() []*ledger.Operation {
	out := make([]*ledger.Operation, 0, len(d.ops))
	for _, op := range d.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *memData) listPending(afterID int64, limit int) []*ledger.Operation {
	var out []*ledger.Operation
	for _, op := range d.sortedOps() {
		if op.ID <= afterID || op.PendingInstanceID == nil {
			continue
		}
		out = append(out, copyOp(op))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (d *memData) listByOwner(owner int64, from, to time.Time) []*ledger.Operation {
	var out []*ledger.Operation
	for _, op := range d.sortedOps() {
		if op.OwnerID != owner {
			continue
		}
		if !from.IsZero() && op.StartDate.Before(from) {
			continue
		}
		if !to.IsZero() && !op.StartDate.Before(to) {
			continue
		}
		out = append(out, copyOp(op))
	}
	return out
}

func (d *memData) insertOp(op *ledger.Operation) error {
	op.ID = d.next()
	d.assignInstanceIDs(op)
	op.ResolvePending()
	d.ops[op.ID] = copyOp(op)
	return nil
}

func (d *memData) updateOp(op *ledger.Operation) error {
	if _, ok := d.ops[op.ID]; !ok {
		return fmt.Errorf("operation %d: %w", op.ID, ErrNotFound)
	}
	d.assignInstanceIDs(op)
	op.ResolvePending()
	d.ops[op.ID] = copyOp(op)
	return nil
}

func (d *memData) assignInstanceIDs(op *ledger.Operation) {
	for _, in := range op.History {
		in.OperationID = op.ID
		if in.ID == 0 {
			in.ID = d.next()
		}
	}
}

func (d *memData) deleteOp(id int64) error {
	if _, ok := d.ops[id]; !ok {
		return fmt.Errorf("operation %d: %w", id, ErrNotFound)
	}
	delete(d.ops, id)
	for rid, r := range d.reminders {
		if r.OperationID == id {
			delete(d.reminders, rid)
		}
	}
	return nil
}

func (d *memData) getReminder(id int64) (*ledger.Reminder, error) {
	r, ok := d.reminders[id]
	if !ok {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (d *memData) getReminderWithOp(id int64) (*ledger.Reminder, *ledger.Operation, error) {
	r, err := d.getReminder(id)
	if err != nil {
		return nil, nil, err
	}
	op, err := d.getOp(r.OperationID)
	if err != nil {
		return nil, nil, err
	}
	return r, op, nil
}

func (d *memData) listReminders(opID int64) []*ledger.Reminder {
	var out []*ledger.Reminder
	for _, r := range d.reminders {
		if r.OperationID == opID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *memData) insertReminder(r *ledger.Reminder) error {
	if _, ok := d.ops[r.OperationID]; !ok {
		return fmt.Errorf("operation %d: %w", r.OperationID, ErrNotFound)
	}
	r.ID = d.next()
	c := *r
	d.reminders[r.ID] = &c
	return nil
}

func (d *memData) updateReminder(r *ledger.Reminder) error {
	if _, ok := d.reminders[r.ID]; !ok {
		return fmt.Errorf("reminder %d: %w", r.ID, ErrNotFound)
	}
	c := *r
	d.reminders[r.ID] = &c
	return nil
}

func (d *memData) deleteReminder(id int64) error {
	if _, ok := d.reminders[id]; !ok {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	delete(d.reminders, id)
	return nil
}

func copyOp(op *ledger.Operation) *ledger.Operation {
	c := *op
	if op.PendingInstanceID != nil {
		id := *op.PendingInstanceID
		c.PendingInstanceID = &id
	}
	c.History = make([]*ledger.OperationInstance, len(op.History))
	for i, in := range op.History {
		ic := *in
		if in.ExecutedAt != nil {
			at := *in.ExecutedAt
			ic.ExecutedAt = &at
		}
		c.History[i] = &ic
	}
	return &c
}
