package notify

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically re-dispatches notification records left in
// pending, e.g. after a crash between record creation and delivery.
type Sweeper struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
}

func NewSweeper(d *Dispatcher, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		cron:       cron.New(),
		dispatcher: d,
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.dispatcher.Sweep(ctx, 5*time.Minute, 100)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	log.Info().Msg("notification sweeper started")
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
}
