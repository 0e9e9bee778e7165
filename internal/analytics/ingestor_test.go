package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/omniquery/fanout-api/internal/store"
	"github.com/omniquery/fanout-api/internal/store/model"
	"go.uber.org/zap"
)

type recordingRepo struct {
	mu   sync.Mutex
	logs []*model.RequestLog
}

func (r *recordingRepo) Providers() store.ProviderRepository { return nil }
func (r *recordingRepo) Models() store.ModelRepository       { return nil }
func (r *recordingRepo) Requests() store.RequestRepository   { return r }
func (r *recordingRepo) Close() error                        { return nil }

func (r *recordingRepo) Log(_ context.Context, log *model.RequestLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingRepo) GetRecent(context.Context, int) ([]model.RequestLog, error) {
	return nil, nil
}

func (r *recordingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

func TestIngestorDrainsOnStop(t *testing.T) {
	repo := &recordingRepo{}
	ing := NewIngestor(zap.NewNop(), repo)
	ing.Start(context.Background())

	ing.Log(&model.RequestLog{ID: "a", ProviderID: "openai", Status: "ok"})
	ing.Log(&model.RequestLog{ID: "b", ProviderID: "anthropic", Status: "error"})
	ing.Stop()

	assert.Eventually(t, func() bool { return repo.count() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestIngestorLogAfterStopIsSafe(t *testing.T) {
	repo := &recordingRepo{}
	ing := NewIngestor(zap.NewNop(), repo)
	ing.Start(context.Background())

	ing.Stop()
	ing.Stop()
	assert.NotPanics(t, func() {
		ing.Log(&model.RequestLog{ID: "late", ProviderID: "openai"})
	})
}

func TestIngestorStopDuringConcurrentLogs(t *testing.T) {
	repo := &recordingRepo{}
	ing := NewIngestor(zap.NewNop(), repo)
	ing.Start(context.Background())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ing.Log(&model.RequestLog{ID: "x", ProviderID: "openai"})
			}
		}()
	}
	ing.Stop()
	assert.NotPanics(t, wg.Wait)
}
