package blocks

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubHeaderSource serves canned headers and counts calls per block.
type stubHeaderSource struct {
	mu      sync.Mutex
	times   map[uint64]uint64 // block number -> unix time
	failing map[uint64]bool
	headNum uint64
	headErr error
	calls   map[uint64]int
}

func newStubHeaderSource() *stubHeaderSource {
	return &stubHeaderSource{
		times:   make(map[uint64]uint64),
		failing: make(map[uint64]bool),
		calls:   make(map[uint64]int),
	}
}

func (s *stubHeaderSource) BlockNumber(context.Context) (uint64, error) {
	if s.headErr != nil {
		return 0, s.headErr
	}
	return s.headNum, nil
}

func (s *stubHeaderSource) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.headNum
	if number != nil {
		n = number.Uint64()
		s.calls[n]++
	}
	if number == nil && s.headErr != nil {
		return nil, s.headErr
	}
	if s.failing[n] {
		return nil, errors.New("header unavailable")
	}
	unix, ok := s.times[n]
	if !ok {
		return nil, errors.New("unknown block")
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: unix}, nil
}

func (s *stubHeaderSource) callCount(number uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[number]
}

func TestResolver_FetchesAndCaches(t *testing.T) {
	source := newStubHeaderSource()
	source.times[50] = 9_000

	r := NewResolver(source, 13, zap.NewNop())

	unix, estimated := r.Resolve(context.Background(), 50)
	assert.Equal(t, int64(9_000), unix)
	assert.False(t, estimated)

	// Second resolve must come from the cache without a remote call.
	unix, estimated = r.Resolve(context.Background(), 50)
	assert.Equal(t, int64(9_000), unix)
	assert.False(t, estimated)
	assert.Equal(t, 1, source.callCount(50))
}

func TestResolver_EstimatesFromLiveHead(t *testing.T) {
	source := newStubHeaderSource()
	source.failing[50] = true
	source.headNum = 100
	source.times[100] = 10_000

	r := NewResolver(source, 13, zap.NewNop())

	unix, estimated := r.Resolve(context.Background(), 50)
	assert.True(t, estimated)
	// 10_000 - (100-50)*13
	assert.Equal(t, int64(9_350), unix)

	// All three attempts were made before falling back.
	assert.Equal(t, 3, source.callCount(50))
}

func TestResolver_EstimateIsCachedAsEstimate(t *testing.T) {
	source := newStubHeaderSource()
	source.failing[50] = true
	source.headNum = 100
	source.times[100] = 10_000

	r := NewResolver(source, 13, zap.NewNop())

	first, estimated := r.Resolve(context.Background(), 50)
	require.True(t, estimated)

	second, estimated := r.Resolve(context.Background(), 50)
	assert.True(t, estimated)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, source.callCount(50))
}

func TestResolver_EstimateSitsBetweenResolvedNeighbors(t *testing.T) {
	source := newStubHeaderSource()
	source.times[40] = 9_220
	source.times[60] = 9_480
	source.failing[50] = true
	source.headNum = 100
	source.times[100] = 10_000

	r := NewResolver(source, 13, zap.NewNop())

	before, _ := r.Resolve(context.Background(), 40)
	after, _ := r.Resolve(context.Background(), 60)
	mid, estimated := r.Resolve(context.Background(), 50)

	require.True(t, estimated)
	assert.Greater(t, mid, before)
	assert.Less(t, mid, after)
}

func TestResolver_SeededHeadAnchorsEstimation(t *testing.T) {
	source := newStubHeaderSource()
	source.failing[40] = true
	source.headErr = errors.New("node down")

	r := NewResolver(source, 13, zap.NewNop())
	r.SeedHead(100, 10_000)

	unix, estimated := r.Resolve(context.Background(), 40)
	assert.True(t, estimated)
	assert.Equal(t, int64(10_000-60*13), unix)
}

func TestResolver_FutureBlockExtrapolatesForward(t *testing.T) {
	source := newStubHeaderSource()
	source.failing[110] = true
	source.headErr = errors.New("node down")

	r := NewResolver(source, 13, zap.NewNop())
	r.SeedHead(100, 10_000)

	unix, estimated := r.Resolve(context.Background(), 110)
	assert.True(t, estimated)
	assert.Equal(t, int64(10_000+10*13), unix)
}

func TestResolver_SeedHeadKeepsNewest(t *testing.T) {
	source := newStubHeaderSource()
	source.failing[50] = true
	source.headErr = errors.New("node down")

	r := NewResolver(source, 13, zap.NewNop())
	r.SeedHead(100, 10_000)
	r.SeedHead(90, 9_870) // older head must not displace the newer anchor

	unix, estimated := r.Resolve(context.Background(), 50)
	assert.True(t, estimated)
	assert.Equal(t, int64(10_000-50*13), unix)
}
