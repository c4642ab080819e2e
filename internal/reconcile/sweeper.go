package reconcile

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/bus"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/orders"
)

// Sweeper periodically repairs orders that made it into only one ledger.
// Status updates already heal the record they touch; the sweep covers
// records nothing updates. It also runs on a force-reload broadcast.
type Sweeper struct {
	repo  *orders.Repository
	bus   *bus.Bus
	log   *zap.Logger
	cron  *cron.Cron
	spec  string
	unsub func()
}

func NewSweeper(repo *orders.Repository, b *bus.Bus, log *zap.Logger, spec string) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		repo: repo,
		bus:  b,
		log:  log,
		cron: cron.New(),
		spec: spec,
	}
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	if s.bus != nil {
		s.unsub = s.bus.Subscribe(bus.TopicForceReload, func(bus.Envelope) {
			s.RunOnce(context.Background())
		})
	}
	s.cron.Start()
	s.log.Info("reconciliation sweep scheduled", zap.String("spec", s.spec))
	return nil
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
	if s.unsub != nil {
		s.unsub()
	}
}

// RunOnce performs a single sweep and broadcasts orders-updated when it
// repaired anything. Sweeping converged ledgers is a no-op, so the echo of
// that broadcast cannot loop.
func (s *Sweeper) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	healed, err := s.repo.Reconcile(ctx)
	if err != nil {
		s.log.Error("reconciliation sweep failed", zap.Error(err))
		return
	}
	if healed == 0 {
		return
	}
	s.log.Info("reconciliation sweep repaired records", zap.Int("healed", healed))
	if s.bus != nil {
		if err := s.bus.Publish(ctx, bus.TopicOrdersUpdated, nil); err != nil {
			s.log.Warn("orders-updated publish failed", zap.Error(err))
		}
	}
}
