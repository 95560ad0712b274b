// Package history keeps the coffee history and serves it to observers.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/machine"
	"github.com/sweeney/coffee-machine/internal/sim"
	"github.com/sweeney/coffee-machine/internal/store"
)

// Publisher delivers a message to every observer.
type Publisher interface {
	Publish(broadcast.Message)
}

// Service reads and writes the coffee history.
type Service struct {
	store store.Store
	pub   Publisher
	limit int
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// Config holds Service settings. Limit bounds how many records are sent.
type Config struct {
	Limit  int
	Now    func() time.Time
	NewID  func() string
	Logger zerolog.Logger
}

// New creates a Service.
func New(st store.Store, pub Publisher, cfg Config) *Service {
	if cfg.Limit <= 0 {
		cfg.Limit = store.DefaultHistoryLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	return &Service{
		store: st,
		pub:   pub,
		limit: cfg.Limit,
		now:   cfg.Now,
		newID: cfg.NewID,
		log:   cfg.Logger.With().Str("component", "history").Logger(),
	}
}

// List returns the most recent records, oldest first.
func (s *Service) List(ctx context.Context) ([]machine.CoffeeRecord, error) {
	return s.store.CoffeeHistory(ctx, s.limit)
}

// SendHistory broadcasts the coffee history to every observer.
func (s *Service) SendHistory(ctx context.Context) error {
	h, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("load coffee history: %w", err)
	}
	s.pub.Publish(broadcast.HistoryMessage(h))
	return nil
}

// SaveCoffee stores a record. A missing ID or timestamp is filled in.
func (s *Service) SaveCoffee(ctx context.Context, rec machine.CoffeeRecord) error {
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.Amount <= 0 {
		rec.Amount = 1
	}
	return s.store.SaveCoffee(ctx, rec)
}

// RecordBrew stores completed brews. Use as the supervisor's finish hook.
func (s *Service) RecordBrew(res sim.Result) {
	if res.Task.Kind != sim.KindBrew || res.Outcome != sim.OutcomeCompleted {
		return
	}
	rec := machine.CoffeeRecord{
		Type:   res.Task.Recipe.Name,
		Amount: res.Task.Amount,
		Source: machine.SourceMachine,
	}
	if err := s.SaveCoffee(context.Background(), rec); err != nil {
		s.log.Warn().Err(err).Msg("record brew")
	}
}
