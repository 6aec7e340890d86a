// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package services

import (
	"context"
	"time"

	"github.com/collabd/collabd/internal/logging"
)

// Sweeper is the registry surface the service drives. Satisfied by
// *room.Registry.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SweeperService expires stale awareness entries on a fixed interval.
type SweeperService struct {
	sweeper  Sweeper
	interval time.Duration
}

func NewSweeperService(sweeper Sweeper, interval time.Duration) *SweeperService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SweeperService{sweeper: sweeper, interval: interval}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if expired := s.sweeper.Sweep(now); expired > 0 {
				logging.Debug().Int("expired", expired).Msg("Swept stale awareness entries")
			}
		}
	}
}

func (s *SweeperService) String() string {
	return "awareness-sweeper"
}
