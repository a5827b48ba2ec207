package router

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jrmatherly/nexus/internal/model"
)

// modelListCreated is the fixed creation timestamp reported for configured
// models; the gateway has no real creation time for them.
const modelListCreated = 1719475200

// modelCache memoizes the aggregated model listing.
type modelCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	fetched time.Time
	data    []model.ModelInfo
}

func newModelCache(ttl time.Duration) *modelCache {
	return &modelCache{ttl: ttl}
}

// ListModels returns every configured model as provider/effective ids.
// Providers are listed concurrently; a provider whose listing fails is
// logged and omitted so one bad upstream cannot empty the catalog. Results
// are cached for five minutes.
func (r *Router) ListModels(ctx context.Context) model.ModelList {
	r.models.mu.Lock()
	defer r.models.mu.Unlock()

	if r.models.data != nil && time.Since(r.models.fetched) < r.models.ttl {
		return model.ModelList{Object: "list", Data: r.models.data}
	}

	var mu sync.Mutex
	var all []model.ModelInfo

	g, ctx := errgroup.WithContext(ctx)
	for name, h := range r.handles {
		g.Go(func() error {
			infos, err := h.listModels(ctx)
			if err != nil {
				log.Printf("warn: listing models for provider %s failed: %v", name, err)
				return nil // partial results beat none
			}
			mu.Lock()
			all = append(all, infos...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	r.models.data = all
	r.models.fetched = time.Now()
	return model.ModelList{Object: "list", Data: all}
}

// listModels reports the handle's configured models under their external
// ids.
func (h *Handle) listModels(_ context.Context) ([]model.ModelInfo, error) {
	infos := make([]model.ModelInfo, 0, len(h.effectiveByRaw))
	for _, effective := range h.effectiveByRaw {
		infos = append(infos, model.ModelInfo{
			ID:      h.provider.Name() + "/" + effective,
			Object:  "model",
			Created: modelListCreated,
			OwnedBy: h.provider.Name(),
		})
	}
	return infos, nil
}
