package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bookstore/pkg/domain"
	"bookstore/pkg/events"
	"bookstore/pkg/storage"
	"bookstore/pkg/store"
	"bookstore/pkg/store/storetest"
)

const testPassword = "Str0ng!Passw0rd"

var testKey = sync.OnceValue(func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
})

type testEnv struct {
	app      *App
	events   *events.Recorder
	objects  *fakeObjects
	observer *countingObserver
	revoker  *store.MemoryTokenRevoker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	revoker := store.NewMemoryTokenRevoker()
	signer, err := store.NewJWTSigner(testKey(), "test-kid", nil, time.Minute, revoker, store.JWTOptions{})
	require.NoError(t, err)
	env := &testEnv{
		events:   &events.Recorder{},
		objects:  newFakeObjects(),
		observer: &countingObserver{statuses: map[string]int{}},
		revoker:  revoker,
	}
	a, err := New(Config{
		DB:         storetest.NewDB(t),
		Signer:     signer,
		Objects:    env.objects,
		Events:     env.events,
		Observer:   env.observer,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	env.app = a
	return env
}

func (e *testEnv) register(t *testing.T, username string) Session {
	t.Helper()
	s, err := e.app.Register(context.Background(), RegisterInput{
		Email:    username + "@example.com",
		Username: username,
		Password: testPassword,
	})
	require.NoError(t, err)
	return s
}

func (e *testEnv) category(t *testing.T, name string) domain.Category {
	t.Helper()
	c, err := e.app.CreateCategory(context.Background(), CategoryInput{Name: name})
	require.NoError(t, err)
	return c
}

func (e *testEnv) author(t *testing.T, name string) domain.Author {
	t.Helper()
	a, err := e.app.CreateAuthor(context.Background(), AuthorInput{FullName: name})
	require.NoError(t, err)
	return a
}

func (e *testEnv) book(t *testing.T, title, price string, qty int) domain.Book {
	t.Helper()
	b, err := e.app.CreateBook(context.Background(), BookInput{
		Title:      title,
		CategoryID: e.category(t, title+" shelf").ID,
		AuthorID:   e.author(t, title+" author").ID,
		Price:      decimal.RequireFromString(price),
		Quantity:   qty,
	})
	require.NoError(t, err)
	return b
}

func (e *testEnv) reloadBook(t *testing.T, id string) domain.Book {
	t.Helper()
	uow := storetest.NewUnitOfWork(t, e.app.db)
	b, ok, err := uow.Books().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return b
}

type countingObserver struct {
	mu       sync.Mutex
	placed   int
	statuses map[string]int
	failures int
}

func (o *countingObserver) OrderPlaced() {
	o.mu.Lock()
	o.placed++
	o.mu.Unlock()
}

func (o *countingObserver) OrderStatusChanged(status string) {
	o.mu.Lock()
	o.statuses[status]++
	o.mu.Unlock()
}

func (o *countingObserver) EventPublishFailed(string) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]storage.ObjectInfo
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string]storage.ObjectInfo{}}
}

func (f *fakeObjects) put(key, contentType string, size int64) {
	f.mu.Lock()
	f.objects[key] = storage.ObjectInfo{Key: key, ContentType: contentType, Size: size}
	f.mu.Unlock()
}

func (f *fakeObjects) PresignUpload(_ context.Context, key string, policy storage.UploadPolicy, expiry time.Duration) (storage.UploadTicket, error) {
	return storage.UploadTicket{
		URL:       "http://objects.test/covers",
		Fields:    map[string]string{"key": key, "Content-Type": policy.ContentType},
		Key:       key,
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}

func (f *fakeObjects) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return info, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjects) URL(key string) string {
	return "http://objects.test/covers/" + url.PathEscape(key)
}
