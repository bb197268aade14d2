package offlinesim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/okian/zikir/internal/client/syncer"
	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
)

// flakyTransport loses bulk requests on the way out, or loses the reply
// after the server applied them. Both look like a network error to the
// caller.
type flakyTransport struct {
	next syncer.Transport

	mu       sync.Mutex
	rng      *rand.Rand
	rate     float64
	requests int
	lostReq  int
	lostResp int
	dups     int
}

func newFlakyTransport(next syncer.Transport, rate float64, seed, stream uint64) *flakyTransport {
	return &flakyTransport{next: next, rate: rate, rng: rand.New(rand.NewPCG(seed, stream))}
}

func (f *flakyTransport) Count(ctx context.Context, roomID, userID string) (model.LiveCounter, error) {
	return f.next.Count(ctx, roomID, userID)
}

func (f *flakyTransport) CountBulk(ctx context.Context, roomID, userID string, req types.BulkRequest) (model.BulkResult, error) {
	f.mu.Lock()
	f.requests++
	loseRequest := f.rng.Float64() < f.rate
	loseReply := !loseRequest && f.rng.Float64() < f.rate
	if loseRequest {
		f.lostReq++
	}
	f.mu.Unlock()

	if loseRequest {
		return model.BulkResult{}, fmt.Errorf("%w: request dropped", model.ErrNetwork)
	}
	res, err := f.next.CountBulk(ctx, roomID, userID, req)
	if err != nil {
		return res, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dups += res.Duplicates
	if loseReply {
		f.lostResp++
		return model.BulkResult{}, fmt.Errorf("%w: reply dropped", model.ErrNetwork)
	}
	return res, nil
}

// settle stops injecting failures.
func (f *flakyTransport) settle() {
	f.mu.Lock()
	f.rate = 0
	f.mu.Unlock()
}

func (f *flakyTransport) addTo(s *Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.BulkRequests += f.requests
	s.LostRequests += f.lostReq
	s.LostReplies += f.lostResp
	s.Duplicates += f.dups
}
