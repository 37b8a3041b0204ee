package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"medledger/internal/events"
	"medledger/internal/model"
	"medledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inTxKey struct{}

// memStore is an in-memory database. A transaction holds mu for its whole
// duration, which gives serializable semantics; a failed transaction restores
// the snapshot taken when it began.
type memStore struct {
	mu sync.Mutex

	medicines  map[uuid.UUID]model.Medicine
	categories map[uuid.UUID]model.Category
	subs       map[uuid.UUID]model.SubCategory
	bills      map[uuid.UUID]model.Bill
	returns    []model.SaleReturn
	sequences  map[string]int64
	movements  []model.StockMovement
	audits     []model.AuditLog
	users      map[uuid.UUID]model.User

	// txFailures are returned by successive RunInTx calls before fn runs.
	txFailures []error
	// opFailures fail the named repository operation once.
	opFailures map[string]error
	txCount    int
}

func newMemStore() *memStore {
	return &memStore{
		medicines:  make(map[uuid.UUID]model.Medicine),
		categories: make(map[uuid.UUID]model.Category),
		subs:       make(map[uuid.UUID]model.SubCategory),
		bills:      make(map[uuid.UUID]model.Bill),
		sequences:  make(map[string]int64),
		users:      make(map[uuid.UUID]model.User),
		opFailures: make(map[string]error),
	}
}

type snapshot struct {
	medicines  map[uuid.UUID]model.Medicine
	categories map[uuid.UUID]model.Category
	subs       map[uuid.UUID]model.SubCategory
	bills      map[uuid.UUID]model.Bill
	returns    []model.SaleReturn
	sequences  map[string]int64
	movements  []model.StockMovement
	audits     []model.AuditLog
	users      map[uuid.UUID]model.User
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() snapshot {
	bills := make(map[uuid.UUID]model.Bill, len(s.bills))
	for k, b := range s.bills {
		b.Items = append([]model.BillItem(nil), b.Items...)
		bills[k] = b
	}
	return snapshot{
		medicines:  copyMap(s.medicines),
		categories: copyMap(s.categories),
		subs:       copyMap(s.subs),
		bills:      bills,
		returns:    append([]model.SaleReturn(nil), s.returns...),
		sequences:  copyMap(s.sequences),
		movements:  append([]model.StockMovement(nil), s.movements...),
		audits:     append([]model.AuditLog(nil), s.audits...),
		users:      copyMap(s.users),
	}
}

func (s *memStore) restore(snap snapshot) {
	s.medicines = snap.medicines
	s.categories = snap.categories
	s.subs = snap.subs
	s.bills = snap.bills
	s.returns = snap.returns
	s.sequences = snap.sequences
	s.movements = snap.movements
	s.audits = snap.audits
	s.users = snap.users
}

// with runs fn under the store lock unless ctx already belongs to a transaction.
func (s *memStore) with(ctx context.Context, fn func()) {
	if inTx(ctx) {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *memStore) fault(op string) error {
	if err, ok := s.opFailures[op]; ok {
		delete(s.opFailures, op)
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(inTxKey{}).(bool)
	return v
}

var errNoTx = errors.New("locking read outside a transaction")

// -- transaction manager

type fakeTxManager struct {
	s *memStore
}

func (m *fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.s.txCount++
	if len(m.s.txFailures) > 0 {
		err := m.s.txFailures[0]
		m.s.txFailures = m.s.txFailures[1:]
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := m.s.snapshot()
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		m.s.restore(snap)
		return err
	}
	// commit fails once the attempt's deadline has passed
	if err := ctx.Err(); err != nil {
		m.s.restore(snap)
		return err
	}
	return nil
}

// -- medicines

type fakeMedicineRepo struct{ s *memStore }

func (r *fakeMedicineRepo) Create(ctx context.Context, m *model.Medicine) (err error) {
	r.s.with(ctx, func() {
		if err = r.s.fault("medicines.Create"); err != nil {
			return
		}
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.CreatedAt = time.Now()
		m.UpdatedAt = m.CreatedAt
		r.s.medicines[m.ID] = *m
	})
	return err
}

func (r *fakeMedicineRepo) Update(ctx context.Context, m *model.Medicine) (err error) {
	r.s.with(ctx, func() {
		if err = r.s.fault("medicines.Update"); err != nil {
			return
		}
		m.UpdatedAt = time.Now()
		stored := *m
		stored.Category, stored.SubCategory = nil, nil
		r.s.medicines[m.ID] = stored
	})
	return err
}

func (r *fakeMedicineRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Medicine, error) {
	var (
		out *model.Medicine
		err error
	)
	r.s.with(ctx, func() {
		m, ok := r.s.medicines[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		out = &m
	})
	return out, err
}

func (r *fakeMedicineRepo) ExistsBatch(ctx context.Context, name, batch string, categoryID uuid.UUID, excludeID *uuid.UUID) (bool, error) {
	found := false
	r.s.with(ctx, func() {
		for _, m := range r.s.medicines {
			if excludeID != nil && m.ID == *excludeID {
				continue
			}
			if strings.EqualFold(m.Name, name) && m.BatchNumber == batch && m.CategoryID == categoryID {
				found = true
			}
		}
	})
	return found, nil
}

func (r *fakeMedicineRepo) List(ctx context.Context, f repository.MedicineFilter, page, limit int) ([]model.Medicine, int64, error) {
	var out []model.Medicine
	r.s.with(ctx, func() {
		for _, m := range r.s.medicines {
			if f.Search != "" && !strings.Contains(strings.ToLower(m.Name), strings.ToLower(f.Search)) {
				continue
			}
			if f.CategoryID != nil && m.CategoryID != *f.CategoryID {
				continue
			}
			if f.ActiveOnly && !m.IsActive {
				continue
			}
			out = append(out, m)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := int64(len(out))
	start := (page - 1) * limit
	if start > len(out) {
		start = len(out)
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *fakeMedicineRepo) FindByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]model.Medicine, error) {
	if !inTx(ctx) {
		return nil, errNoTx
	}
	if err := r.s.fault("medicines.FindByIDsForUpdate"); err != nil {
		return nil, err
	}
	var out []model.Medicine
	for _, id := range ids {
		if m, ok := r.s.medicines[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMedicineRepo) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	if !inTx(ctx) {
		return 0, errNoTx
	}
	if err := r.s.fault("medicines.AdjustStock"); err != nil {
		return 0, err
	}
	m, ok := r.s.medicines[id]
	if !ok || m.Stock+delta < 0 {
		return 0, repository.ErrStockConflict
	}
	m.Stock += delta
	r.s.medicines[id] = m
	return m.Stock, nil
}

// -- bills

type fakeBillRepo struct{ s *memStore }

func (r *fakeBillRepo) Create(ctx context.Context, b *model.Bill) error {
	if !inTx(ctx) {
		return errNoTx
	}
	if err := r.s.fault("bills.Create"); err != nil {
		return err
	}
	for _, existing := range r.s.bills {
		if existing.BillNumber == b.BillNumber {
			return errors.New("duplicate bill number " + b.BillNumber)
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	for i := range b.Items {
		b.Items[i].ID = uuid.New()
		b.Items[i].BillID = b.ID
	}
	stored := *b
	stored.Items = append([]model.BillItem(nil), b.Items...)
	r.s.bills[b.ID] = stored
	return nil
}

func (r *fakeBillRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Bill, error) {
	var (
		out *model.Bill
		err error
	)
	r.s.with(ctx, func() {
		b, ok := r.s.bills[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		b.Items = append([]model.BillItem(nil), b.Items...)
		for i := range b.Items {
			if m, ok := r.s.medicines[b.Items[i].MedicineID]; ok {
				b.Items[i].Medicine = &m
			}
		}
		out = &b
	})
	return out, err
}

func (r *fakeBillRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Bill, error) {
	if !inTx(ctx) {
		return nil, errNoTx
	}
	return r.FindByID(ctx, id)
}

func (r *fakeBillRepo) UpdateTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	if !inTx(ctx) {
		return errNoTx
	}
	if err := r.s.fault("bills.UpdateTotal"); err != nil {
		return err
	}
	b, ok := r.s.bills[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.TotalAmount = total
	r.s.bills[id] = b
	return nil
}

func (r *fakeBillRepo) List(ctx context.Context, search string, page, limit int) ([]model.Bill, int64, error) {
	var out []model.Bill
	r.s.with(ctx, func() {
		for _, b := range r.s.bills {
			if search == "" || strings.Contains(b.BillNumber, search) || strings.Contains(b.CustomerName, search) {
				out = append(out, b)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].BillNumber > out[j].BillNumber })
	return out, int64(len(out)), nil
}

func (r *fakeBillRepo) LastNumberWithPrefix(ctx context.Context, prefix string) (string, error) {
	last := ""
	for _, b := range r.s.bills {
		if strings.HasPrefix(b.BillNumber, prefix) {
			if len(b.BillNumber) > len(last) || (len(b.BillNumber) == len(last) && b.BillNumber > last) {
				last = b.BillNumber
			}
		}
	}
	return last, nil
}

// -- returns

type fakeReturnRepo struct{ s *memStore }

func (r *fakeReturnRepo) Create(ctx context.Context, ret *model.SaleReturn) error {
	if !inTx(ctx) {
		return errNoTx
	}
	if err := r.s.fault("returns.Create"); err != nil {
		return err
	}
	if ret.ID == uuid.Nil {
		ret.ID = uuid.New()
	}
	ret.CreatedAt = time.Now()
	for i := range ret.Items {
		ret.Items[i].ID = uuid.New()
		ret.Items[i].ReturnID = ret.ID
	}
	stored := *ret
	stored.Items = append([]model.ReturnItem(nil), ret.Items...)
	r.s.returns = append(r.s.returns, stored)
	return nil
}

func (r *fakeReturnRepo) FindByBillID(ctx context.Context, billID uuid.UUID) ([]model.SaleReturn, error) {
	var out []model.SaleReturn
	r.s.with(ctx, func() {
		for _, ret := range r.s.returns {
			if ret.BillID == billID {
				out = append(out, ret)
			}
		}
	})
	return out, nil
}

// -- sequences

type fakeSequenceRepo struct{ s *memStore }

func (r *fakeSequenceRepo) Next(ctx context.Context, epoch string, seed func(ctx context.Context) (int64, error)) (int64, error) {
	if !inTx(ctx) {
		return 0, errNoTx
	}
	if err := r.s.fault("sequences.Next"); err != nil {
		return 0, err
	}
	current, ok := r.s.sequences[epoch]
	if !ok {
		start, err := seed(ctx)
		if err != nil {
			return 0, err
		}
		current = start
	}
	current++
	r.s.sequences[epoch] = current
	return current, nil
}

// -- stock movements

type fakeMovementRepo struct{ s *memStore }

func (r *fakeMovementRepo) Create(ctx context.Context, m *model.StockMovement) (err error) {
	r.s.with(ctx, func() {
		if err = r.s.fault("movements.Create"); err != nil {
			return
		}
		m.ID = uuid.New()
		m.CreatedAt = time.Now()
		r.s.movements = append(r.s.movements, *m)
	})
	return err
}

func (r *fakeMovementRepo) ListByMedicine(ctx context.Context, medicineID uuid.UUID, page, limit int) ([]model.StockMovement, int64, error) {
	var out []model.StockMovement
	r.s.with(ctx, func() {
		for i := len(r.s.movements) - 1; i >= 0; i-- {
			if r.s.movements[i].MedicineID == medicineID {
				out = append(out, r.s.movements[i])
			}
		}
	})
	return out, int64(len(out)), nil
}

// -- audit

type fakeAuditRepo struct{ s *memStore }

func (r *fakeAuditRepo) Log(ctx context.Context, entry *model.AuditLog) (err error) {
	r.s.with(ctx, func() {
		if err = r.s.fault("audits.Log"); err != nil {
			return
		}
		entry.ID = uuid.New()
		entry.CreatedAt = time.Now()
		r.s.audits = append(r.s.audits, *entry)
	})
	return err
}

func (r *fakeAuditRepo) List(ctx context.Context, f repository.AuditFilter, page, limit int) ([]model.AuditLog, int64, error) {
	var out []model.AuditLog
	r.s.with(ctx, func() {
		for _, a := range r.s.audits {
			if f.Action != "" && a.Action != f.Action {
				continue
			}
			out = append(out, a)
		}
	})
	return out, int64(len(out)), nil
}

// -- publisher

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// -- categories

type fakeCategoryRepo struct{ s *memStore }

func (r *fakeCategoryRepo) Create(ctx context.Context, c *model.Category) error {
	r.s.with(ctx, func() {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		r.s.categories[c.ID] = *c
	})
	return nil
}

func (r *fakeCategoryRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Category, error) {
	var (
		out *model.Category
		err error
	)
	r.s.with(ctx, func() {
		c, ok := r.s.categories[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		out = &c
	})
	return out, err
}

func (r *fakeCategoryRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	found := false
	r.s.with(ctx, func() {
		for _, c := range r.s.categories {
			if strings.EqualFold(c.Name, name) {
				found = true
			}
		}
	})
	return found, nil
}

func (r *fakeCategoryRepo) List(ctx context.Context) ([]model.Category, error) {
	var out []model.Category
	r.s.with(ctx, func() {
		for _, c := range r.s.categories {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeCategoryRepo) CreateSub(ctx context.Context, sub *model.SubCategory) error {
	r.s.with(ctx, func() {
		if sub.ID == uuid.Nil {
			sub.ID = uuid.New()
		}
		r.s.subs[sub.ID] = *sub
	})
	return nil
}

func (r *fakeCategoryRepo) FindSubByID(ctx context.Context, id uuid.UUID) (*model.SubCategory, error) {
	var (
		out *model.SubCategory
		err error
	)
	r.s.with(ctx, func() {
		sub, ok := r.s.subs[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		out = &sub
	})
	return out, err
}

func (r *fakeCategoryRepo) ExistsSubByName(ctx context.Context, categoryID uuid.UUID, name string) (bool, error) {
	found := false
	r.s.with(ctx, func() {
		for _, sub := range r.s.subs {
			if sub.CategoryID == categoryID && strings.EqualFold(sub.Name, name) {
				found = true
			}
		}
	})
	return found, nil
}

func (r *fakeCategoryRepo) ListSub(ctx context.Context, categoryID uuid.UUID) ([]model.SubCategory, error) {
	var out []model.SubCategory
	r.s.with(ctx, func() {
		for _, sub := range r.s.subs {
			if sub.CategoryID == categoryID {
				out = append(out, sub)
			}
		}
	})
	return out, nil
}

// -- users

type fakeUserRepo struct{ s *memStore }

func (r *fakeUserRepo) Create(ctx context.Context, u *model.User) error {
	r.s.with(ctx, func() {
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		u.CreatedAt = time.Now()
		r.s.users[u.ID] = *u
	})
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var (
		out *model.User
		err error
	)
	r.s.with(ctx, func() {
		u, ok := r.s.users[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		out = &u
	})
	return out, err
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var (
		out *model.User
		err = repository.ErrNotFound
	)
	r.s.with(ctx, func() {
		for _, u := range r.s.users {
			if u.Email == email {
				u := u
				out, err = &u, nil
				return
			}
		}
	})
	return out, err
}

func (r *fakeUserRepo) List(ctx context.Context, page, limit int) ([]model.User, int64, error) {
	var out []model.User
	r.s.with(ctx, func() {
		for _, u := range r.s.users {
			out = append(out, u)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, int64(len(out)), nil
}

func (r *fakeUserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	r.s.with(ctx, func() { n = int64(len(r.s.users)) })
	return n, nil
}
