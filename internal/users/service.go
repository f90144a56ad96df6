package users

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
	pkgerrors "github.com/helioslabs/userhub/pkg/errors"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/outbox"
	"github.com/helioslabs/userhub/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns user mutations. Every mutation and its outbox row commit in
// one transaction: a failed outbox insert rolls the mutation back.
type Service struct {
	db       txRunner
	repo     *Repository
	outbox   *outbox.Service
	logg     *logger.Logger
	validate *validator.Validate
}

type ServiceParams struct {
	DB     txRunner
	Repo   *Repository
	Outbox *outbox.Service
	Logger *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Repo == nil {
		return nil, errors.New("user repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox service is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:       params.DB,
		repo:     params.Repo,
		outbox:   params.Outbox,
		logg:     params.Logger,
		validate: validator.New(),
	}, nil
}

// CreateInput carries the fields for a new user.
type CreateInput struct {
	Username    string  `validate:"required,min=3,max=64"`
	Email       string  `validate:"required,email"`
	FirstName   string  `validate:"max=128"`
	LastName    string  `validate:"max=128"`
	PhoneNumber *string `validate:"omitempty,max=32"`
	DateOfBirth *string `validate:"omitempty,datetime=2006-01-02"`
}

// ProfileUpdateInput carries a partial profile update. The embedded address
// block, when present, flows through to the ProfileUpdated event.
type ProfileUpdateInput struct {
	Username    *string       `validate:"omitempty,min=3,max=64"`
	Email       *string       `validate:"omitempty,email"`
	FirstName   *string       `validate:"omitempty,max=128"`
	LastName    *string       `validate:"omitempty,max=128"`
	PhoneNumber *string       `validate:"omitempty,max=32"`
	DateOfBirth *string       `validate:"omitempty,datetime=2006-01-02"`
	Address     *AddressInput `validate:"omitempty"`
}

type AddressInput struct {
	Street  string `validate:"max=256"`
	City    string `validate:"max=128"`
	State   string `validate:"max=128"`
	ZipCode string `validate:"max=32"`
	Country string `validate:"max=128"`
}

// Create inserts the user and queues USER_CREATED atomically.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.User, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user input")
	}

	taken, err := s.repo.ExistsByUsername(ctx, input.Username, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "username already exists")
	}
	taken, err = s.repo.ExistsByEmail(ctx, input.Email, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already exists")
	}

	row := &models.User{
		ID:          uuid.New(),
		Username:    input.Username,
		Email:       input.Email,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		PhoneNumber: input.PhoneNumber,
		DateOfBirth: input.DateOfBirth,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.CreateTx(tx, row); err != nil {
			return err
		}
		return s.outbox.RecordUserEvent(ctx, tx, enums.EventUserCreated, row.ID.String(), userPayload(row))
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAggregateID(ctx, row.ID.String()), "user created")
	return row, nil
}

// Update applies field changes and queues USER_UPDATED atomically.
// Get returns the user or a not-found error. Soft-deleted users are absent.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return row, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, input ProfileUpdateInput) (*models.User, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user input")
	}

	row, err := s.loadForUpdate(ctx, id, input)
	if err != nil {
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.SaveTx(tx, row); err != nil {
			return err
		}
		return s.outbox.RecordUserEvent(ctx, tx, enums.EventUserUpdated, row.ID.String(), userPayload(row))
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAggregateID(ctx, row.ID.String()), "user updated")
	return row, nil
}

// UpdateProfile applies field changes and queues ProfileUpdated with the
// embedded address block, atomically.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, input ProfileUpdateInput) (*models.User, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid profile input")
	}

	row, err := s.loadForUpdate(ctx, id, input)
	if err != nil {
		return nil, err
	}

	event := payloads.ProfileUpdatedEvent{
		UserID:      row.ID.String(),
		Username:    row.Username,
		Email:       row.Email,
		FirstName:   row.FirstName,
		LastName:    row.LastName,
		PhoneNumber: row.PhoneNumber,
		Timestamp:   time.Now().UTC(),
	}
	if input.Address != nil {
		event.Address = &payloads.AddressInfo{
			Street:  input.Address.Street,
			City:    input.Address.City,
			State:   input.Address.State,
			ZipCode: input.Address.ZipCode,
			Country: input.Address.Country,
		}
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.SaveTx(tx, row); err != nil {
			return err
		}
		return s.outbox.RecordProfileUpdated(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAggregateID(ctx, row.ID.String()), "user profile updated")
	return row, nil
}

// Delete tombstones the user and queues USER_DELETED atomically.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if row == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.SoftDeleteTx(tx, id); err != nil {
			return err
		}
		return s.outbox.RecordUserEvent(ctx, tx, enums.EventUserDeleted, id.String(), userPayload(row))
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithAggregateID(ctx, id.String()), "user deleted")
	return nil
}

func (s *Service) loadForUpdate(ctx context.Context, id uuid.UUID, input ProfileUpdateInput) (*models.User, error) {
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	if input.Username != nil && *input.Username != row.Username {
		taken, err := s.repo.ExistsByUsername(ctx, *input.Username, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "username already exists")
		}
		row.Username = *input.Username
	}
	if input.Email != nil && *input.Email != row.Email {
		taken, err := s.repo.ExistsByEmail(ctx, *input.Email, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already exists")
		}
		row.Email = *input.Email
	}
	if input.FirstName != nil {
		row.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		row.LastName = *input.LastName
	}
	if input.PhoneNumber != nil {
		row.PhoneNumber = input.PhoneNumber
	}
	if input.DateOfBirth != nil {
		row.DateOfBirth = input.DateOfBirth
	}
	return row, nil
}

func userPayload(row *models.User) *payloads.UserPayload {
	return &payloads.UserPayload{
		ID:          row.ID.String(),
		Username:    row.Username,
		Email:       row.Email,
		FirstName:   row.FirstName,
		LastName:    row.LastName,
		PhoneNumber: row.PhoneNumber,
		DateOfBirth: row.DateOfBirth,
	}
}
