package services

import (
	"context"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"` // seconds
}

const (
	HealthOK       = "OK"
	HealthDegraded = "DEGRADED"
)

type HealthService struct {
	db      Pinger
	started time.Time
	now     func() time.Time
}

func NewHealthService(db Pinger) *HealthService {
	return &HealthService{db: db, started: time.Now(), now: time.Now}
}

// Get reports OK while the database answers a ping within a second.
func (s *HealthService) Get(ctx context.Context) (*Health, error) {
	now := s.now()
	h := &Health{
		Status:    HealthOK,
		Timestamp: now,
		Uptime:    now.Sub(s.started).Seconds(),
	}
	if s.db == nil {
		return h, nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		h.Status = HealthDegraded
		return h, err
	}
	return h, nil
}
