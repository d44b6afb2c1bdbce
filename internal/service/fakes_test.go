package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/techland/internal/model"
	"github.com/iliyamo/techland/internal/repository"
)

// memUsers is an in-memory UserStore.
type memUsers struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*model.User
}

func newMemUsers() *memUsers { return &memUsers{byID: map[uint64]*model.User{}} }

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if x.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.IsActive = true
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = repository.NormalizeEmail(email)
	for _, x := range m.byID {
		if x.Email == email {
			return *x, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if x, ok := m.byID[id]; ok {
		return *x, nil
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) UpdatePassword(_ context.Context, id uint64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	x, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	x.PasswordHash = hash
	return nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, id uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if x, ok := m.byID[id]; ok {
		x.LastLoginAt = &at
	}
	return nil
}

func (m *memUsers) Deactivate(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	x, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	x.IsActive = false
	return nil
}

// memSessions is an in-memory session registry. Consume flips is_active
// under the lock, which gives the same single-winner outcome as the
// conditional UPDATE.
type memSessions struct {
	mu     sync.Mutex
	users  *memUsers
	nextID uint64
	rows   map[string]*model.Session
	now    func() time.Time
}

func newMemSessions(users *memUsers) *memSessions {
	return &memSessions{users: users, rows: map[string]*model.Session{}, now: time.Now}
}

func (m *memSessions) Record(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	s.IsActive = true
	s.CreatedAt = m.now()
	cp := *s
	m.rows[s.TokenHash] = &cp
	return nil
}

func (m *memSessions) owner(s *model.Session) (model.SessionOwner, bool) {
	u, err := m.users.GetByID(context.Background(), s.UserID)
	if err != nil || !u.IsActive || !s.IsActive || !s.ExpiresAt.After(m.now()) {
		return model.SessionOwner{}, false
	}
	return model.SessionOwner{Session: *s, Name: u.Name, Email: u.Email, Role: u.Role}, true
}

func (m *memSessions) Validate(_ context.Context, hash string) (model.SessionOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[hash]
	if !ok {
		return model.SessionOwner{}, repository.ErrSessionNotFound
	}
	o, ok := m.owner(s)
	if !ok {
		return model.SessionOwner{}, repository.ErrSessionNotFound
	}
	return o, nil
}

func (m *memSessions) Consume(_ context.Context, hash string) (model.SessionOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[hash]
	if !ok {
		return model.SessionOwner{}, repository.ErrSessionNotFound
	}
	o, ok := m.owner(s)
	if !ok {
		return model.SessionOwner{}, repository.ErrSessionNotFound
	}
	s.IsActive = false
	return o, nil
}

func (m *memSessions) Revoke(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[hash]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *memSessions) RevokeAll(_ context.Context, userID uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.rows {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memSessions) PurgeExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, s := range m.rows {
		if !s.IsActive || !s.ExpiresAt.After(m.now()) {
			delete(m.rows, h)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) ListActive(_ context.Context, userID uint64) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.rows {
		if s.UserID == userID && s.IsActive && s.ExpiresAt.After(m.now()) {
			out = append(out, *s)
		}
	}
	return out, nil
}

// memShop is an in-memory catalog and order ledger. RunTx holds one lock
// for the whole callback and restores a snapshot when it fails, so it
// behaves like a serializable transaction.
type memShop struct {
	mu          sync.Mutex
	items       map[string]model.CatalogItem
	enrollments map[string]model.Enrollment
	orders      []model.Order
	payments    []model.Payment
	ledger      map[string]model.CheckoutRequest
	failPayment bool
}

func newMemShop(items ...model.CatalogItem) *memShop {
	m := &memShop{
		items:       map[string]model.CatalogItem{},
		enrollments: map[string]model.Enrollment{},
		ledger:      map[string]model.CheckoutRequest{},
	}
	for _, it := range items {
		m.items[itemKey(it.Type, it.ID)] = it
	}
	return m
}

func itemKey(t model.ItemType, id uint64) string { return fmt.Sprintf("%s:%d", t, id) }
func enrKey(u, c uint64) string                 { return fmt.Sprintf("%d:%d", u, c) }

type shopState struct {
	items       map[string]model.CatalogItem
	enrollments map[string]model.Enrollment
	orders      []model.Order
	payments    []model.Payment
	ledger      map[string]model.CheckoutRequest
}

func (m *memShop) snapshot() shopState {
	st := shopState{
		items:       map[string]model.CatalogItem{},
		enrollments: map[string]model.Enrollment{},
		orders:      append([]model.Order(nil), m.orders...),
		payments:    append([]model.Payment(nil), m.payments...),
		ledger:      map[string]model.CheckoutRequest{},
	}
	for k, v := range m.items {
		st.items[k] = v
	}
	for k, v := range m.enrollments {
		st.enrollments[k] = v
	}
	for k, v := range m.ledger {
		st.ledger[k] = v
	}
	return st
}

func (m *memShop) restore(st shopState) {
	m.items, m.enrollments, m.orders, m.payments, m.ledger = st.items, st.enrollments, st.orders, st.payments, st.ledger
}

func (m *memShop) RunTx(_ context.Context, _ string, fn func(tx *sql.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.snapshot()
	if err := fn(nil); err != nil {
		m.restore(st)
		return err
	}
	return nil
}

// Catalog and EnrollmentChecker take the lock themselves; the Tx methods
// below run while RunTx already holds it.

func (m *memShop) Lookup(_ context.Context, typ model.ItemType, id uint64) (model.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemKey(typ, id)]
	if !ok {
		return model.CatalogItem{}, repository.ErrNotFound
	}
	return it, nil
}

func (m *memShop) IsEnrolled(_ context.Context, userID, courseID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[enrKey(userID, courseID)]
	return ok && e.PaymentStatus == model.EnrollmentPaid, nil
}

func (m *memShop) lock(typ model.ItemType, id uint64) (model.CatalogItem, error) {
	it, ok := m.items[itemKey(typ, id)]
	if !ok {
		return model.CatalogItem{}, repository.ErrNotFound
	}
	return it, nil
}

func (m *memShop) LockProductTx(_ context.Context, _ *sql.Tx, id uint64) (model.CatalogItem, error) {
	return m.lock(model.ItemProduct, id)
}

func (m *memShop) DecrementStockTx(_ context.Context, _ *sql.Tx, id uint64, qty int) error {
	k := itemKey(model.ItemProduct, id)
	it := m.items[k]
	if it.Stock < qty {
		return repository.ErrInsufficientStock
	}
	it.Stock -= qty
	m.items[k] = it
	return nil
}

func (m *memShop) LockCourseTx(_ context.Context, _ *sql.Tx, id uint64) (model.CatalogItem, error) {
	return m.lock(model.ItemCourse, id)
}

func (m *memShop) IncrementStudentsTx(_ context.Context, _ *sql.Tx, id uint64) error {
	k := itemKey(model.ItemCourse, id)
	it := m.items[k]
	it.StudentsCount++
	m.items[k] = it
	return nil
}

func (m *memShop) LockServiceTx(_ context.Context, _ *sql.Tx, id uint64) (model.CatalogItem, error) {
	return m.lock(model.ItemService, id)
}

func (m *memShop) CreateTx(_ context.Context, _ *sql.Tx, o *model.Order) error {
	o.ID = uint64(len(m.orders) + 1)
	m.orders = append(m.orders, *o)
	return nil
}

func (m *memShop) CreateLinesBulkTx(_ context.Context, _ *sql.Tx, orderID uint64, lines []model.OrderLine) error {
	o := &m.orders[orderID-1]
	o.Lines = append(o.Lines, lines...)
	return nil
}

func (m *memShop) GetByNumberForUser(_ context.Context, number string, userID uint64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderNumber == number && o.UserID == userID {
			return o, nil
		}
	}
	return model.Order{}, repository.ErrNotFound
}

func (m *memShop) FindTx(_ context.Context, _ *sql.Tx, userID, courseID uint64) (model.Enrollment, error) {
	e, ok := m.enrollments[enrKey(userID, courseID)]
	if !ok {
		return model.Enrollment{}, repository.ErrNotFound
	}
	return e, nil
}

func (m *memShop) UpsertPaidTx(_ context.Context, _ *sql.Tx, userID, courseID uint64) (bool, error) {
	k := enrKey(userID, courseID)
	e, existed := m.enrollments[k]
	if !existed {
		e = model.Enrollment{ID: uint64(len(m.enrollments) + 1), UserID: userID, CourseID: courseID}
	}
	e.PaymentStatus = model.EnrollmentPaid
	m.enrollments[k] = e
	return !existed, nil
}

// payments is a separate view so memShop can satisfy PaymentWriter with a
// CreateTx that does not clash with OrderWriter's.
type memPayments struct{ shop *memShop }

func (p memPayments) CreateTx(_ context.Context, _ *sql.Tx, pay *model.Payment) error {
	if p.shop.failPayment {
		return fmt.Errorf("payments table unavailable")
	}
	pay.ID = uint64(len(p.shop.payments) + 1)
	p.shop.payments = append(p.shop.payments, *pay)
	return nil
}

type memLedger struct{ shop *memShop }

func (l memLedger) Find(_ context.Context, key string) (model.CheckoutRequest, error) {
	l.shop.mu.Lock()
	defer l.shop.mu.Unlock()
	r, ok := l.shop.ledger[key]
	if !ok {
		return model.CheckoutRequest{}, repository.ErrNotFound
	}
	return r, nil
}

func (l memLedger) FindByReference(_ context.Context, userID uint64, ref string) (model.CheckoutRequest, error) {
	l.shop.mu.Lock()
	defer l.shop.mu.Unlock()
	for _, r := range l.shop.ledger {
		if r.Reference == ref && r.UserID == userID {
			return r, nil
		}
	}
	return model.CheckoutRequest{}, repository.ErrNotFound
}

func (l memLedger) ClaimTx(_ context.Context, _ *sql.Tx, req model.CheckoutRequest) error {
	if _, ok := l.shop.ledger[req.Key]; ok {
		return repository.ErrCheckoutReplayed
	}
	l.shop.ledger[req.Key] = req
	return nil
}

func (l memLedger) CompleteTx(_ context.Context, _ *sql.Tx, key string, orderID *uint64, total int64) error {
	r := l.shop.ledger[key]
	r.OrderID = orderID
	r.TotalCents = total
	l.shop.ledger[key] = r
	return nil
}

func (m *memShop) item(typ model.ItemType, id uint64) model.CatalogItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[itemKey(typ, id)]
}

func (m *memShop) counts() (orders, payments int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders), len(m.payments)
}

// newCartStore returns a Redis-backed cart store on a private miniredis.
func newCartStore(t *testing.T) (*repository.CartStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return repository.NewCartStore(rdb, time.Hour), mr
}

func mustAdd(t *testing.T, c *Carts, sid string, userID uint64, typ model.ItemType, id uint64, qty int) model.Cart {
	t.Helper()
	cart, err := c.Add(context.Background(), sid, userID, typ, id, qty)
	require.NoError(t, err)
	return cart
}
