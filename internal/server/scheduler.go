package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/amarchal/fundscan/internal/store"
)

// Scheduler wakes periodically and runs every due watch. Redis locks
// keep concurrent replicas from importing the same watch twice.
type Scheduler struct {
	Store     *store.Store
	WordPress *WordPressHandler
	Rdb       *redis.Client
	Logger    *log.Logger
	Stop      chan struct{}

	// Interval between sweeps, defaults to one minute.
	Interval time.Duration
}

func (s *Scheduler) Start() {
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(s.Interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	watches, err := s.Store.ListAllWatches(ctx)
	if err != nil {
		s.Logger.Printf("list watches: %v", err)
		return
	}
	for _, w := range watches {
		if !isDue(w.CronSpec, w.LastRunAt) {
			continue
		}
		if s.Rdb != nil {
			lockKey := "sched:lock:" + w.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}
		go s.runWatch(w)
	}
}

func (s *Scheduler) runWatch(w store.Watch) {
	// jitter to avoid stampedes
	time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)

	imported, err := s.WordPress.importRecent(w.UserID, w.BaseDomain, w.UseSubdirectory, w.Site, w.Search, w.LastRunAt)
	if err != nil {
		s.Logger.Printf("watch %s (%s/%s): %v", w.ID, w.BaseDomain, w.Site, err)
		return
	}
	s.Logger.Printf("watch %s (%s/%s): imported %d posts", w.ID, w.BaseDomain, w.Site, imported)
	if err := s.Store.TouchWatch(context.Background(), w.ID); err != nil {
		s.Logger.Printf("touch watch %s: %v", w.ID, err)
	}
}

// isDue determines if a watch with cronSpec should run now based on its
// last run time. Supports "@daily", "@hourly" and standard cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// invalid spec degrades to daily
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
