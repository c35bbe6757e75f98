package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
)

// AddressInput is the payload of a new address.
type AddressInput struct {
	Street       string
	Number       string
	Complement   string
	Neighborhood string
	City         string
	State        string
	ZipCode      string
	Latitude     *float64
	Longitude    *float64
	IsDefault    bool
}

// AddressPatch carries the fields of a partial update; nil means unchanged.
type AddressPatch struct {
	Street       *string
	Number       *string
	Complement   *string
	Neighborhood *string
	City         *string
	State        *string
	ZipCode      *string
	Latitude     *float64
	Longitude    *float64
	IsDefault    *bool
}

// AddressService keeps every user with addresses at exactly one default.
//
// Each mutation is one transaction whose first statement bumps the owner's
// users.address_version. That write serializes concurrent address mutations
// of the same user, so the clear-then-set sequence never interleaves.
type AddressService struct {
	DB *gorm.DB
}

func (s *AddressService) span(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	return otel.Tracer("services/AddressService").Start(ctx, name,
		trace.WithAttributes(attribute.String("user.id", userID)))
}

// List returns the user's addresses, default first.
func (s *AddressService) List(ctx context.Context, userID string) ([]domain.Address, error) {
	ctx, span := s.span(ctx, "List", userID)
	defer span.End()
	return repo.ListAddresses(ctx, s.DB, userID)
}

// Get returns one of the user's addresses.
func (s *AddressService) Get(ctx context.Context, userID, id string) (*domain.Address, error) {
	ctx, span := s.span(ctx, "Get", userID)
	defer span.End()
	return ownedAddress(ctx, s.DB, userID, id)
}

// Create inserts an address. A user's first address is always the default;
// a later one becomes default only when asked, displacing the previous one.
func (s *AddressService) Create(ctx context.Context, userID string, in AddressInput) (*domain.Address, error) {
	ctx, span := s.span(ctx, "Create", userID)
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a := &domain.Address{
		ID:           uuid.NewString(),
		UserID:       userID,
		Street:       strings.TrimSpace(in.Street),
		Number:       strings.TrimSpace(in.Number),
		Complement:   strings.TrimSpace(in.Complement),
		Neighborhood: strings.TrimSpace(in.Neighborhood),
		City:         strings.TrimSpace(in.City),
		State:        strings.ToUpper(strings.TrimSpace(in.State)),
		ZipCode:      strings.TrimSpace(in.ZipCode),
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		IsDefault:    in.IsDefault,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUserAddresses(ctx, tx, userID); err != nil {
			return err
		}
		n, err := repo.CountAddresses(ctx, tx, userID)
		if err != nil {
			return err
		}
		if n == 0 {
			a.IsDefault = true
		} else if a.IsDefault {
			if err := repo.ClearDefaultAddresses(ctx, tx, userID); err != nil {
				return err
			}
		}
		return repo.CreateAddress(ctx, tx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Update applies a partial update. IsDefault=true moves the default here;
// IsDefault=false on the current default is ignored, since a user with
// addresses always keeps one.
func (s *AddressService) Update(ctx context.Context, userID, id string, p AddressPatch) (*domain.Address, error) {
	ctx, span := s.span(ctx, "Update", userID)
	defer span.End()

	fields, err := p.fields()
	if err != nil {
		return nil, err
	}

	var out *domain.Address
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUserAddresses(ctx, tx, userID); err != nil {
			return err
		}
		a, err := ownedAddress(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if err := repo.UpdateAddressFields(ctx, tx, id, fields); err != nil {
			return err
		}
		if p.IsDefault != nil && *p.IsDefault && !a.IsDefault {
			if err := repo.ClearDefaultAddresses(ctx, tx, userID); err != nil {
				return err
			}
			if err := repo.MarkAddressDefault(ctx, tx, id); err != nil {
				return err
			}
		}
		out, err = repo.GetAddress(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetDefault makes id the user's only default address.
func (s *AddressService) SetDefault(ctx context.Context, userID, id string) (*domain.Address, error) {
	ctx, span := s.span(ctx, "SetDefault", userID)
	defer span.End()

	var out *domain.Address
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUserAddresses(ctx, tx, userID); err != nil {
			return err
		}
		a, err := ownedAddress(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if !a.IsDefault {
			if err := repo.ClearDefaultAddresses(ctx, tx, userID); err != nil {
				return err
			}
			if err := repo.MarkAddressDefault(ctx, tx, id); err != nil {
				return err
			}
		}
		out, err = repo.GetAddress(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an address. Deleting the default promotes the most recently
// created remaining address; deleting the last one leaves no default.
func (s *AddressService) Delete(ctx context.Context, userID, id string) error {
	ctx, span := s.span(ctx, "Delete", userID)
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUserAddresses(ctx, tx, userID); err != nil {
			return err
		}
		a, err := ownedAddress(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if err := repo.DeleteAddress(ctx, tx, id); err != nil {
			return err
		}
		if !a.IsDefault {
			return nil
		}
		next, err := repo.LatestAddress(ctx, tx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return repo.MarkAddressDefault(ctx, tx, next.ID)
	})
}

func lockUserAddresses(ctx context.Context, tx *gorm.DB, userID string) error {
	err := repo.BumpAddressVersion(ctx, tx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func ownedAddress(ctx context.Context, db *gorm.DB, userID, id string) (*domain.Address, error) {
	a, err := repo.GetAddress(ctx, db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrAddressForbidden
	}
	return a, nil
}

func (in AddressInput) validate() error {
	required := map[string]string{
		"street":       in.Street,
		"number":       in.Number,
		"neighborhood": in.Neighborhood,
		"city":         in.City,
		"state":        in.State,
		"zip_code":     in.ZipCode,
	}
	for _, name := range []string{"street", "number", "neighborhood", "city", "state", "zip_code"} {
		if strings.TrimSpace(required[name]) == "" {
			return badRequest("%s is required", name)
		}
	}
	return validCoords(in.Latitude, in.Longitude)
}

func (p AddressPatch) fields() (map[string]any, error) {
	out := map[string]any{}
	set := func(col string, v *string, required bool) error {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		if required && t == "" {
			return badRequest("%s cannot be empty", col)
		}
		if col == "state" {
			t = strings.ToUpper(t)
		}
		out[col] = t
		return nil
	}
	for _, f := range []struct {
		col      string
		v        *string
		required bool
	}{
		{"street", p.Street, true},
		{"number", p.Number, true},
		{"complement", p.Complement, false},
		{"neighborhood", p.Neighborhood, true},
		{"city", p.City, true},
		{"state", p.State, true},
		{"zip_code", p.ZipCode, true},
	} {
		if err := set(f.col, f.v, f.required); err != nil {
			return nil, err
		}
	}
	if err := validCoords(p.Latitude, p.Longitude); err != nil {
		return nil, err
	}
	if p.Latitude != nil {
		out["latitude"] = *p.Latitude
	}
	if p.Longitude != nil {
		out["longitude"] = *p.Longitude
	}
	return out, nil
}

func validCoords(lat, lng *float64) error {
	if lat != nil && (*lat < -90 || *lat > 90) {
		return badRequest("latitude out of range")
	}
	if lng != nil && (*lng < -180 || *lng > 180) {
		return badRequest("longitude out of range")
	}
	return nil
}
