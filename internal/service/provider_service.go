package service

import (
	"context"
	"log/slog"

	"github.com/aditya/campus-rides/internal/cache"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/observability"
	"github.com/aditya/campus-rides/internal/repository"
)

type ProviderService interface {
	// ListProviders returns the verified driver directory students pick from.
	ListProviders(ctx context.Context) ([]models.ProviderListing, error)
	GoOnline(ctx context.Context, actor Actor) error
	GoOffline(ctx context.Context, actor Actor) error
	IsOnline(ctx context.Context, providerID string) (bool, error)
}

type providerService struct {
	userRepo repository.UserRepository
	presence cache.PresenceCache
	logger   *slog.Logger
}

func NewProviderService(userRepo repository.UserRepository, presence cache.PresenceCache, logger *slog.Logger) ProviderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &providerService{userRepo: userRepo, presence: presence, logger: logger}
}

func (s *providerService) ListProviders(ctx context.Context) ([]models.ProviderListing, error) {
	drivers, err := s.userRepo.ListVerifiedDrivers(ctx)
	if err != nil {
		return nil, err
	}

	online := map[string]bool{}
	ids, err := s.presence.OnlineProviders(ctx)
	if err != nil {
		s.logger.Warn("failed to read online providers", "error", err)
	}
	for _, id := range ids {
		online[id] = true
	}

	listings := make([]models.ProviderListing, 0, len(drivers))
	for _, d := range drivers {
		listings = append(listings, d.ToListing(online[d.ID]))
	}
	return listings, nil
}

func (s *providerService) GoOnline(ctx context.Context, actor Actor) error {
	if err := requireVerifiedDriver("provider.GoOnline", actor); err != nil {
		return err
	}
	if err := s.presence.SetOnline(ctx, actor.ID); err != nil {
		return err
	}
	s.refreshGauge(ctx)
	s.logger.Info("driver online", "driver_id", actor.ID)
	return nil
}

func (s *providerService) GoOffline(ctx context.Context, actor Actor) error {
	if err := s.presence.SetOffline(ctx, actor.ID); err != nil {
		return err
	}
	s.refreshGauge(ctx)
	s.logger.Info("driver offline", "driver_id", actor.ID)
	return nil
}

func (s *providerService) IsOnline(ctx context.Context, providerID string) (bool, error) {
	return s.presence.IsOnline(ctx, providerID)
}

func (s *providerService) refreshGauge(ctx context.Context) {
	ids, err := s.presence.OnlineProviders(ctx)
	if err != nil {
		return
	}
	observability.ProvidersOnline.Set(float64(len(ids)))
}
