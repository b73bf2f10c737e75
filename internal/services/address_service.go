package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopfront/api/internal/repositories"
)

var (
	// ErrAddressInvalidInput indicates an address failed validation.
	ErrAddressInvalidInput = errors.New("address: invalid input")
	// ErrAddressNotFound indicates the address does not exist in the user's book.
	ErrAddressNotFound = errors.New("address: not found")
	// ErrAddressConflict indicates a concurrent write to the address book won.
	ErrAddressConflict = errors.New("address: conflict")
)

var (
	addressPhonePattern   = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
	addressCountryPattern = regexp.MustCompile(`^[A-Za-z]{2}$`)
	addressPostalPattern  = regexp.MustCompile(`^[0-9A-Za-z\-\s]{3,16}$`)
)

// AddressServiceDeps bundles collaborators for the address book.
type AddressServiceDeps struct {
	Addresses repositories.AddressRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type addressService struct {
	addresses repositories.AddressRepository
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewAddressService constructs the address book service.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &addressService{
		addresses: deps.Addresses,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

func (s *addressService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrAddressInvalidInput)
	}
	items, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, mapRepositoryError(err, nil, nil)
	}
	for i := range items {
		if items[i].NormalizedHash == "" {
			items[i].NormalizedHash = items[i].Fingerprint()
		}
	}
	return items, nil
}

// AddAddress stores a new address. Submitting an address identical to an existing one updates
// that entry instead of creating a duplicate.
func (s *addressService) AddAddress(ctx context.Context, cmd AddressCommand) (Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Address{}, fmt.Errorf("%w: user id is required", ErrAddressInvalidInput)
	}
	input, err := sanitizeAddress(cmd.Address)
	if err != nil {
		return Address{}, err
	}
	input.NormalizedHash = input.Fingerprint()
	input.IsDefault = cmd.DefaultAddress

	var target *string
	duplicate, found, err := s.addresses.FindByHash(ctx, userID, input.NormalizedHash)
	if err != nil {
		return Address{}, mapRepositoryError(err, nil, ErrAddressConflict)
	}
	if found {
		id := duplicate.ID
		target = &id
		input.IsDefault = input.IsDefault || duplicate.IsDefault
	}
	return s.write(ctx, userID, target, input, "address.added")
}

func (s *addressService) UpdateAddress(ctx context.Context, cmd AddressCommand) (Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	if userID == "" || addressID == "" {
		return Address{}, fmt.Errorf("%w: user id and address id are required", ErrAddressInvalidInput)
	}
	existing, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return Address{}, mapRepositoryError(err, ErrAddressNotFound, nil)
	}
	input, err := sanitizeAddress(cmd.Address)
	if err != nil {
		return Address{}, err
	}
	input.NormalizedHash = input.Fingerprint()
	input.IsDefault = cmd.DefaultAddress || existing.IsDefault
	return s.write(ctx, userID, &addressID, input, "address.updated")
}

func (s *addressService) SetDefaultAddress(ctx context.Context, userID, addressID string) (Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return Address{}, fmt.Errorf("%w: user id and address id are required", ErrAddressInvalidInput)
	}
	saved, err := s.addresses.SetDefault(ctx, userID, addressID)
	if err != nil {
		return Address{}, mapRepositoryError(err, ErrAddressNotFound, ErrAddressConflict)
	}
	s.logger(ctx, "address.default.changed", map[string]any{"userId": userID, "addressId": addressID})
	return saved, nil
}

// DeleteAddress removes the address. When it was the default the repository promotes the most
// recently updated survivor in the same transaction.
func (s *addressService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return fmt.Errorf("%w: user id and address id are required", ErrAddressInvalidInput)
	}
	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		return mapRepositoryError(err, ErrAddressNotFound, ErrAddressConflict)
	}
	s.logger(ctx, "address.deleted", map[string]any{"userId": userID, "addressId": addressID})
	return nil
}

func (s *addressService) write(ctx context.Context, userID string, addressID *string, addr Address, event string) (Address, error) {
	addr.UpdatedAt = s.now()
	saved, err := s.addresses.Upsert(ctx, userID, addressID, addr)
	if err != nil {
		return Address{}, mapRepositoryError(err, ErrAddressNotFound, ErrAddressConflict)
	}
	if saved.NormalizedHash == "" {
		saved.NormalizedHash = saved.Fingerprint()
	}
	s.logger(ctx, event, map[string]any{
		"userId":    userID,
		"addressId": saved.ID,
		"isDefault": saved.IsDefault,
	})
	return saved, nil
}

func sanitizeAddress(addr Address) (Address, error) {
	sanitized := Address{
		Label:      strings.TrimSpace(addr.Label),
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.ToUpper(strings.TrimSpace(addr.PostalCode)),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Line2:      normalizeOptionalString(addr.Line2),
		State:      normalizeOptionalString(addr.State),
		Phone:      normalizeOptionalString(addr.Phone),
	}

	switch {
	case sanitized.Recipient == "" || utf8.RuneCountInString(sanitized.Recipient) > 200:
		return Address{}, fmt.Errorf("%w: recipient is required", ErrAddressInvalidInput)
	case sanitized.Line1 == "":
		return Address{}, fmt.Errorf("%w: line1 is required", ErrAddressInvalidInput)
	case sanitized.City == "":
		return Address{}, fmt.Errorf("%w: city is required", ErrAddressInvalidInput)
	case !addressCountryPattern.MatchString(sanitized.Country):
		return Address{}, fmt.Errorf("%w: country must be a two letter code", ErrAddressInvalidInput)
	case !addressPostalPattern.MatchString(sanitized.PostalCode):
		return Address{}, fmt.Errorf("%w: postal code is invalid", ErrAddressInvalidInput)
	case sanitized.Phone != nil && !addressPhonePattern.MatchString(*sanitized.Phone):
		return Address{}, fmt.Errorf("%w: phone is invalid", ErrAddressInvalidInput)
	}
	return sanitized, nil
}

func normalizeOptionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
