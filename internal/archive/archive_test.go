package archive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridrop/veridrop/internal/faults"
	"github.com/veridrop/veridrop/internal/identity"
	"github.com/veridrop/veridrop/internal/models"
	"github.com/veridrop/veridrop/internal/payload"
)

// fakeStore is an httptest off-chain store speaking the query-envelope
// protocol with redirect-based discovery.
type fakeStore struct {
	t              *testing.T
	moduleAddr     string
	discoveryCalls atomic.Int64
	queryCalls     atomic.Int64
	statusBody     string

	archived map[string]*models.Payload
	errors   []string
}

func newFakeStore(t *testing.T) *fakeStore {
	return &fakeStore{t: t, moduleAddr: "storemod01", archived: map[string]*models.Payload{}}
}

func (s *fakeStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.discoveryCalls.Add(1)
		if s.statusBody != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(s.statusBody))
			return
		}
		w.Header().Set("Location", "/module/"+s.moduleAddr)
		w.WriteHeader(http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/module/"+s.moduleAddr, func(w http.ResponseWriter, r *http.Request) {
		s.queryCalls.Add(1)
		var env queryEnvelope
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&env))
		require.NotEmpty(s.t, env.Envelope.Signature)

		var payloads []*models.Payload
		for _, q := range env.Envelope.Queries {
			switch q.Schema {
			case schemaInsert:
				for _, p := range q.Payloads {
					s.archived[p.ContentHash] = p
				}
			case schemaGet:
				for _, h := range q.Hashes {
					if p, ok := s.archived[h]; ok {
						payloads = append(payloads, p)
					}
				}
			}
		}

		ack := storeAck{ID: env.Envelope.ID, StoreTxHash: "storetx-1"}
		resp := []any{ack, payloads, s.errors}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(s.t, json.NewEncoder(w).Encode(resp))
	})
	return mux
}

func testSigner(t *testing.T) identity.Signer {
	t.Helper()
	id, err := identity.LoadOrCreate(t.TempDir())
	require.NoError(t, err)
	return id
}

func testPayload(t *testing.T) *models.Payload {
	t.Helper()
	p, err := payload.Build(models.DeliveryEvent{
		DeliveryID: "del-001",
		DriverID:   "D1",
		OrderID:    "O1",
		Timestamp:  1704067200000,
		Latitude:   37.7749,
		Longitude:  -122.4194,
	})
	require.NoError(t, err)
	return p
}

func TestInsertThenGetRoundtrip(t *testing.T) {
	store := newFakeStore(t)
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	a := New(srv.URL, testSigner(t), time.Second)
	p := testPayload(t)

	res, err := a.Insert(context.Background(), []*models.Payload{p})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.InsertedCount)
	assert.Equal(t, "storetx-1", res.StoreTxHash)

	got, err := a.Get(context.Background(), p.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ContentHash, got.ContentHash)
	assert.Equal(t, p.Body, got.Body)

	// Retrieval is idempotent.
	again, err := a.Get(context.Background(), p.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestGetMissReturnsNil(t *testing.T) {
	store := newFakeStore(t)
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	a := New(srv.URL, testSigner(t), time.Second)
	got, err := a.Get(context.Background(), "unknownhash")
	require.NoError(t, err)
	assert.Nil(t, got)
	// Single attempt, no retry loop.
	assert.Equal(t, int64(1), store.queryCalls.Load())
}

func TestDiscoveryCachedForProcessLifetime(t *testing.T) {
	store := newFakeStore(t)
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	a := New(srv.URL, testSigner(t), time.Second)
	for i := 0; i < 3; i++ {
		_, err := a.Get(context.Background(), "whatever")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), store.discoveryCalls.Load())
}

func TestDiscoveryFromStatusPayload(t *testing.T) {
	store := newFakeStore(t)
	store.statusBody = `{"address": "storemod01"}`
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	a := New(srv.URL, testSigner(t), time.Second)
	p := testPayload(t)
	res, err := a.Insert(context.Background(), []*models.Payload{p})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestDiscoveryFailureFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(srv.URL, testSigner(t), time.Second)

	got, err := a.Get(context.Background(), "anyhash")
	assert.Nil(t, got)
	var unresolved *faults.StoreAddressUnresolvedError
	require.ErrorAs(t, err, &unresolved)

	res, err := a.Insert(context.Background(), []*models.Payload{testPayload(t)})
	assert.False(t, res.Success)
	assert.ErrorAs(t, err, &unresolved)
}

func TestDiscoveryFailureNotCached(t *testing.T) {
	var calls atomic.Int64
	store := newFakeStore(t)
	inner := store.handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	a := New(srv.URL, testSigner(t), time.Second)

	_, err := a.Get(context.Background(), "anyhash")
	require.Error(t, err)

	// Next call retries discovery and succeeds.
	got, err := a.Get(context.Background(), "anyhash")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertRejectedByStore(t *testing.T) {
	store := newFakeStore(t)
	store.errors = []string{"quota exceeded"}
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	a := New(srv.URL, testSigner(t), time.Second)
	res, err := a.Insert(context.Background(), []*models.Payload{testPayload(t)})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.InsertedCount)
}

func TestEnvelopeSignatureVerifies(t *testing.T) {
	id, err := identity.LoadOrCreate(t.TempDir())
	require.NoError(t, err)
	a := New("http://unused", id, time.Second)

	env, err := a.buildEnvelope(envelopeQuery{Schema: schemaGet, Hashes: []string{"h1"}})
	require.NoError(t, err)

	sig, err := base64.StdEncoding.DecodeString(env.Envelope.Signature)
	require.NoError(t, err)

	unsigned := env.Envelope
	unsigned.Signature = ""
	canonical, err := json.Marshal(unsigned)
	require.NoError(t, err)

	assert.True(t, identity.Verify(id.PublicKey(), canonical, sig))
	assert.Equal(t, id.Address(), env.Envelope.Address)
	assert.NotEmpty(t, env.Envelope.ID)
}
