package app

import (
	"context"
	"errors"
	"sync"

	cfgloader "github.com/raphalvezz/loocac/internal/config/loader"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/retrain"
	"github.com/raphalvezz/loocac/internal/scenario"
	"github.com/raphalvezz/loocac/internal/store"
)

const triggerMarket = "market_config"

type marketWriter interface {
	Write(doc scenario.MarketDocument) (cfgloader.MarketSnapshot, error)
	Snapshot() (cfgloader.MarketSnapshot, bool)
}

type retrainTrigger interface {
	Trigger(req retrain.Request) (store.RunRecord, error)
}

type marketObserver interface {
	ObserveMarketReload()
}

// marketSync turns market document versions into retrain runs. A version
// triggers at most once whether it arrives from the HTTP handler or from
// the file watcher.
type marketSync struct {
	loader   marketWriter
	retrain  retrainTrigger
	observer marketObserver

	mu          sync.Mutex
	lastVersion int64
	lastRun     store.RunRecord
}

func newMarketSync(loader marketWriter, rt retrainTrigger, obs marketObserver) *marketSync {
	s := &marketSync{loader: loader, retrain: rt, observer: obs}
	if snap, ok := loader.Snapshot(); ok {
		// The release on disk was built from whatever was there at startup.
		s.lastVersion = snap.Version
	}
	return s
}

// ConfigureMarket persists doc and starts a background retrain on it.
func (s *marketSync) ConfigureMarket(ctx context.Context, doc scenario.MarketDocument) (store.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return store.RunRecord{}, err
	}
	snap, err := s.loader.Write(doc)
	if err != nil {
		return store.RunRecord{}, err
	}
	return s.trigger(snap)
}

func (s *marketSync) onChange(snap cfgloader.MarketSnapshot) {
	if _, err := s.trigger(snap); err != nil {
		logger.Errorf("[market] retrain for version %d not started: %v", snap.Version, err)
	}
}

func (s *marketSync) trigger(snap cfgloader.MarketSnapshot) (store.RunRecord, error) {
	if snap.Catalog == nil {
		return store.RunRecord{}, errors.New("market snapshot has no catalog")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Version <= s.lastVersion && s.lastRun.ID != "" {
		return s.lastRun, nil
	}
	rec, err := s.retrain.Trigger(retrain.Request{
		Trigger: triggerMarket,
		Catalog: snap.Catalog,
		Config:  snap.Raw,
	})
	if err != nil {
		return store.RunRecord{}, err
	}
	s.lastVersion = snap.Version
	s.lastRun = rec
	if s.observer != nil {
		s.observer.ObserveMarketReload()
	}
	logger.Infof("[market] version %d accepted (%d scenarios), run %s", snap.Version, snap.Catalog.Len(), rec.ID)
	return rec, nil
}
