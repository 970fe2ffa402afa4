package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/cryptox"
	"github.com/dmitrijs2005/capsulekeeper/internal/dbx"
	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/outbound"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/burstkeys"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/capsules"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/grantlocks"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// --- capsules ---

type fakeCapsulesRepo struct {
	mu        sync.Mutex
	items     map[string]*models.Capsule
	createErr error
	getErr    error
}

func newFakeCapsulesRepo() *fakeCapsulesRepo {
	return &fakeCapsulesRepo{items: map[string]*models.Capsule{}}
}

func copyCapsule(c *models.Capsule) *models.Capsule {
	cp := *c
	cp.EncryptedContent = append([]byte(nil), c.EncryptedContent...)
	return &cp
}

func (f *fakeCapsulesRepo) Create(ctx context.Context, c *models.Capsule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.items[c.ID] = copyCapsule(c)
	return nil
}

func (f *fakeCapsulesRepo) Get(ctx context.Context, id string) (*models.Capsule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.items[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return copyCapsule(c), nil
}

func (f *fakeCapsulesRepo) GetForUpdate(ctx context.Context, id string) (*models.Capsule, error) {
	return f.Get(ctx, id)
}

func (f *fakeCapsulesRepo) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	if !ok || c.Status != models.CapsuleActive {
		return false, nil
	}
	c.Status = models.CapsuleRevoked
	c.RevokedAt = &at
	return true, nil
}

func (f *fakeCapsulesRepo) SetLedgerRef(ctx context.Context, id string, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	if !ok {
		return common.ErrorNotFound
	}
	c.LedgerRef = ref
	return nil
}

// --- burst keys ---

type fakeBurstKeysRepo struct {
	mu        sync.Mutex
	items     map[string]*models.BurstKey
	createErr error
	listErr   error
	markErr   error
}

func newFakeBurstKeysRepo() *fakeBurstKeysRepo {
	return &fakeBurstKeysRepo{items: map[string]*models.BurstKey{}}
}

func copyKey(k *models.BurstKey) *models.BurstKey {
	cp := *k
	if k.ConsumedAt != nil {
		t := *k.ConsumedAt
		cp.ConsumedAt = &t
	}
	return &cp
}

func (f *fakeBurstKeysRepo) Create(ctx context.Context, k *models.BurstKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.items[k.ID] = copyKey(k)
	return nil
}

func (f *fakeBurstKeysRepo) GetBySecretHash(ctx context.Context, secretHash string) (*models.BurstKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.items {
		if k.SecretHash == secretHash {
			return copyKey(k), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeBurstKeysRepo) ListForPair(ctx context.Context, accessorID, capsuleID string) ([]*models.BurstKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*models.BurstKey
	for _, k := range f.items {
		if k.AccessorID == accessorID && k.CapsuleID == capsuleID {
			out = append(out, copyKey(k))
		}
	}
	return out, nil
}

func (f *fakeBurstKeysRepo) MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return false, f.markErr
	}
	k, ok := f.items[id]
	if !ok || k.ConsumedAt != nil || !k.ExpiresAt.After(at) {
		return false, nil
	}
	k.ConsumedAt = &at
	return true, nil
}

func (f *fakeBurstKeysRepo) CountExpiredBetween(ctx context.Context, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range f.items {
		if k.ConsumedAt == nil && k.ExpiresAt.After(from) && !k.ExpiresAt.After(to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeBurstKeysRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// --- grant locks ---

type pairKey struct{ accessor, capsule string }

type fakeLocks struct {
	mu         sync.Mutex
	items      map[pairKey]models.GrantLock
	acquireErr error
	releaseErr error
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{items: map[pairKey]models.GrantLock{}}
}

func (f *fakeLocks) Acquire(ctx context.Context, l models.GrantLock, now time.Time) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return false, "", f.acquireErr
	}
	k := pairKey{l.AccessorID, l.CapsuleID}
	if cur, ok := f.items[k]; ok && cur.ExpiresAt.After(now) {
		return false, cur.BurstID, nil
	}
	f.items[k] = l
	return true, "", nil
}

func (f *fakeLocks) Release(ctx context.Context, l models.GrantLock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	k := pairKey{l.AccessorID, l.CapsuleID}
	if cur, ok := f.items[k]; ok && cur.BurstID == l.BurstID {
		delete(f.items, k)
	}
	return nil
}

func (f *fakeLocks) Purge(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, l := range f.items {
		if !l.ExpiresAt.After(now) {
			delete(f.items, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeLocks) held(accessorID, capsuleID string) (models.GrantLock, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.items[pairKey{accessorID, capsuleID}]
	return l, ok
}

// --- audit ---

type fakeAuditRepo struct {
	mu        sync.Mutex
	entries   []*models.AuditEntry
	appendErr error
	listErr   error
	ctxErrs   []error
}

func (f *fakeAuditRepo) Append(ctx context.Context, e *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.appendErr != nil {
		return f.appendErr
	}
	cp := *e
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeAuditRepo) ListByCapsule(ctx context.Context, capsuleID string, limit int) ([]*models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*models.AuditEntry
	for _, e := range f.entries {
		if e.CapsuleID == capsuleID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAuditRepo) kinds() []models.AuditKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AuditKind, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Kind)
	}
	return out
}

func (f *fakeAuditRepo) byKind(kind models.AuditKind) []*models.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range f.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// --- manager ---

type fakeRepoManager struct {
	c *fakeCapsulesRepo
	b *fakeBurstKeysRepo
	g *fakeLocks
	a *fakeAuditRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Capsules(db dbx.DBTX) capsules.Repository     { return m.c }
func (m *fakeRepoManager) BurstKeys(db dbx.DBTX) burstkeys.Repository   { return m.b }
func (m *fakeRepoManager) GrantLocks(db dbx.DBTX) grantlocks.Repository { return m.g }
func (m *fakeRepoManager) Audit(db dbx.DBTX) audit.Repository           { return m.a }

// --- collaborators ---

type captureMirror struct {
	mu       sync.Mutex
	created  []string
	issued   []string
	consumed []string
}

func (m *captureMirror) CapsuleCreated(c *models.Capsule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, c.ID)
}

func (m *captureMirror) KeyIssued(k *models.BurstKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = append(m.issued, k.ID)
}

func (m *captureMirror) KeyConsumed(k *models.ConsumedBurstKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed = append(m.consumed, k.BurstID)
}

type captureQueue struct {
	mu    sync.Mutex
	tasks []outbound.Task
}

func (q *captureQueue) Enqueue(t outbound.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return true
}

type fakeArchive struct {
	enabled bool
	puts    map[string][]byte
	url     string
	err     error
}

func (a *fakeArchive) Enabled() bool { return a.enabled }

func (a *fakeArchive) Put(ctx context.Context, key string, body []byte) error {
	if a.err != nil {
		return a.err
	}
	if a.puts == nil {
		a.puts = map[string][]byte{}
	}
	a.puts[key] = body
	return nil
}

func (a *fakeArchive) PresignGet(ctx context.Context, key string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return a.url + key, nil
}

// testClock is a settable clock shared by every service in an env.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var (
	keyringOnce sync.Once
	keyring     *cryptox.Keyring
)

func testKeyring(t *testing.T) *cryptox.Keyring {
	t.Helper()
	keyringOnce.Do(func() {
		k, err := cryptox.NewKeyring([]byte("test-master-secret"), []byte("test-salt"))
		if err != nil {
			panic(err)
		}
		keyring = k
	})
	return keyring
}

// testEnv wires every service over in-memory fakes.
type testEnv struct {
	db       *sql.DB
	mock     sqlmock.Sqlmock
	rm       *fakeRepoManager
	clock    *testClock
	mirror   *captureMirror
	queue    *captureQueue
	archive  *fakeArchive
	audit    *AuditService
	capsules *CapsuleService
	keys     *BurstKeyService
	access   *AccessService
	sweeper  *Sweeper
}

const testTTL = 10 * time.Minute

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rm := &fakeRepoManager{
		c: newFakeCapsulesRepo(),
		b: newFakeBurstKeysRepo(),
		g: newFakeLocks(),
		a: &fakeAuditRepo{},
	}
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	logger := logging.Discard()
	kr := testKeyring(t)

	env := &testEnv{
		db:      db,
		mock:    mock,
		rm:      rm,
		clock:   clock,
		mirror:  &captureMirror{},
		queue:   &captureQueue{},
		archive: &fakeArchive{url: "https://s3.test/"},
	}

	env.audit = NewAuditService(db, rm, 100, logger)
	env.audit.now = clock.now

	env.capsules = NewCapsuleService(db, rm, kr, env.mirror, env.archive, env.queue, logger)
	env.capsules.now = clock.now

	env.keys = NewBurstKeyService(db, rm, rm.g, kr, env.audit, env.mirror, testTTL, logger)
	env.keys.now = clock.now

	env.access = NewAccessService(env.capsules, env.keys, env.audit, logger)

	env.sweeper = NewSweeper(db, rm, rm.g, time.Minute, logger)
	env.sweeper.now = clock.now

	return env
}

// iceContent is the capsule used across scenarios.
func iceContent() map[string]any {
	return map[string]any{
		"name":      "Alex Doe",
		"bloodType": "O-",
		"allergies": []any{"penicillin"},
		"emergencyContact": map[string]any{
			"name":  "Jo",
			"phone": "555-1",
		},
	}
}

func (env *testEnv) createCapsule(t *testing.T, owner string, content map[string]any) *models.CapsuleSummary {
	t.Helper()
	sum, err := env.capsules.Create(context.Background(), CreateCapsuleInput{
		OwnerID:     owner,
		Content:     content,
		CapsuleType: "medical",
	})
	if err != nil {
		t.Fatalf("create capsule: %v", err)
	}
	return sum
}

