package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/ocpi"
)

const (
	nodeA = "0x1111111111111111111111111111111111111111"
	nodeB = "0x2222222222222222222222222222222222222222"
)

func parties() []Party {
	return []Party{
		{CountryCode: "DE", PartyID: "AAA", PartyAddress: "0xaaaa", OperatorAddress: nodeA, NodeURL: "https://node-a.example/"},
		{CountryCode: "NL", PartyID: "BBB", PartyAddress: "0xbbbb", OperatorAddress: nodeB, NodeURL: "https://node-b.example"},
	}
}

func TestSnapshotResolve(t *testing.T) {
	s, err := NewSnapshot(parties(), time.Now())
	require.NoError(t, err)

	p, err := s.Resolve(ocpi.NewRole("de", "aaa"))
	require.NoError(t, err)
	assert.Equal(t, "https://node-a.example", p.NodeURL)

	_, err = s.Resolve(ocpi.NewRole("FR", "CCC"))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.True(t, s.IsOperator("0X2222222222222222222222222222222222222222"))
	assert.False(t, s.IsOperator("0x3333"))
	assert.Len(t, s.Parties(), 2)
}

func TestSnapshotRejectsUnroutableParty(t *testing.T) {
	_, err := NewSnapshot([]Party{{CountryCode: "DE", PartyID: "AAA"}}, time.Now())
	assert.Error(t, err)
}

func TestIsLocalOperator(t *testing.T) {
	s, err := NewSnapshot(parties(), time.Now())
	require.NoError(t, err)

	self := Node{Address: nodeA, URL: "https://node-a.example"}
	assert.True(t, s.IsLocalOperator(ocpi.NewRole("DE", "AAA"), self))
	assert.False(t, s.IsLocalOperator(ocpi.NewRole("NL", "BBB"), self))

	wrongURL := Node{Address: nodeA, URL: "https://elsewhere.example"}
	assert.False(t, s.IsLocalOperator(ocpi.NewRole("DE", "AAA"), wrongURL))
}

type countingSource struct {
	calls   atomic.Int32
	parties []Party
	err     error
}

func (c *countingSource) Fetch(context.Context) ([]Party, error) {
	c.calls.Add(1)
	return c.parties, c.err
}

func TestHolderRefreshOnMissIsRateLimited(t *testing.T) {
	src := &countingSource{parties: parties()}
	h := NewHolder(src, time.Minute, zap.NewNop())

	p, err := h.ResolveOrRefresh(context.Background(), ocpi.NewRole("NL", "BBB"))
	require.NoError(t, err)
	assert.Equal(t, nodeB, p.OperatorAddress)
	assert.EqualValues(t, 1, src.calls.Load())

	_, err = h.ResolveOrRefresh(context.Background(), ocpi.NewRole("FR", "CCC"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 2, src.calls.Load())

	_, err = h.ResolveOrRefresh(context.Background(), ocpi.NewRole("FR", "CCC"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 2, src.calls.Load(), "second miss is served from the negative cache")
}

func TestHolderKeepsSnapshotOnFailedRefresh(t *testing.T) {
	src := &countingSource{parties: parties()}
	h := NewHolder(src, time.Minute, zap.NewNop())
	_, err := h.Refresh(context.Background())
	require.NoError(t, err)

	src.err = errors.New("indexer down")
	_, err = h.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, h.Snapshot().Len())
}

// gatedSource blocks a fetch until released or its context ends.
type gatedSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) Fetch(ctx context.Context) ([]Party, error) {
	close(s.started)
	select {
	case <-s.release:
		return parties(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestHolderRefreshSurvivesCancelledCaller(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}
	h := NewHolder(src, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.Refresh(ctx)
		done <- err
	}()
	<-src.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(src.release)
	require.Eventually(t, func() bool { return h.Snapshot().Len() == 2 }, time.Second, 10*time.Millisecond)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	doc := `parties:
  - country_code: DE
    party_id: AAA
    party_address: "0xaaaa"
    operator_address: "` + nodeA + `"
    node_url: https://node-a.example
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	got, err := FileSource{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAA", got[0].PartyID)
	assert.Equal(t, nodeA, got[0].OperatorAddress)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(registryDocument{Parties: parties()})
	}))
	defer srv.Close()

	got, err := HTTPSource{URL: srv.URL}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	_, err = HTTPSource{URL: failing.URL}.Fetch(context.Background())
	assert.Error(t, err)
}
