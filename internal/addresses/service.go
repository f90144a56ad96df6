package addresses

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/outbox/payloads"
)

// Service applies the business effects of inbound user events. Every method
// runs inside the caller's transaction so the effect commits or rolls back
// together with the idempotency ledger entry, and every effect is safe to
// re-run on its own as defense in depth behind the ledger gate.
type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("address repository is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// ApplyUserDeleted removes every address owned by the deleted user. A user
// with no addresses is a successful no-op.
func (s *Service) ApplyUserDeleted(ctx context.Context, tx *gorm.DB, userID string) error {
	deleted, err := s.repo.DeleteAllForUserTx(tx, userID)
	if err != nil {
		return err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"aggregate_id":      userID,
		"addresses_deleted": deleted,
	})
	if deleted == 0 {
		s.logg.Info(logCtx, "no addresses for deleted user")
		return nil
	}
	s.logg.Info(logCtx, "deleted addresses for user")
	return nil
}

// ApplyProfileUpdated upserts the single profile-derived address row from the
// embedded address block. Events without an address block are a no-op.
func (s *Service) ApplyProfileUpdated(ctx context.Context, tx *gorm.DB, event *payloads.ProfileUpdatedEvent) error {
	if event == nil {
		return errors.New("profile event is required")
	}
	if strings.TrimSpace(event.UserID) == "" {
		return errors.New("profile event missing user id")
	}
	if event.Address == nil {
		s.logg.Info(s.logg.WithAggregateID(ctx, event.UserID), "profile update carried no address block")
		return nil
	}

	row, err := s.repo.FindProfileAddressTx(tx, event.UserID)
	if err != nil {
		return err
	}
	if row == nil {
		row = &models.Address{
			UserID:      event.UserID,
			FromProfile: true,
		}
	}
	row.Line1 = event.Address.Street
	row.City = event.Address.City
	row.State = event.Address.State
	row.Country = event.Address.Country
	row.PostalCode = event.Address.ZipCode

	if err := s.repo.SaveTx(tx, row); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithAggregateID(ctx, event.UserID), "upserted address from profile")
	return nil
}
