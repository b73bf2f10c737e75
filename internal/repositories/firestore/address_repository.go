package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shopfront/api/internal/domain"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository persists user addresses in Firestore. Every write that can affect the default
// flag reads the whole address book inside the transaction first, so at most one address is default.
type AddressRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider, clock: func() time.Time { return time.Now().UTC() }}, nil
}

// List returns all addresses for the user, most recently updated first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	base, err := r.base(userID)
	if err != nil {
		return nil, err
	}
	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("updatedAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	base, err := r.base(userID)
	if err != nil {
		return domain.Address{}, err
	}
	doc, err := base.Get(ctx, strings.TrimSpace(addressID))
	if err != nil {
		return domain.Address{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Upsert creates the address when addressID is nil and replaces it otherwise. The first address of
// a user always becomes the default; an update never drops the default flag of the current default.
func (r *AddressRepository) Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error) {
	base, err := r.base(userID)
	if err != nil {
		return domain.Address{}, err
	}
	coll, err := base.CollectionRef(ctx)
	if err != nil {
		return domain.Address{}, err
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := base.QueryTx(tx, coll.Query)
		if err != nil {
			return err
		}

		ref := coll.NewDoc()
		var current *addressDocument
		if addressID != nil {
			id := strings.TrimSpace(*addressID)
			for i := range existing {
				if existing[i].ID == id {
					current = &existing[i].Data
					break
				}
			}
			if current == nil {
				return pfirestore.NotFound("addresses.upsert", fmt.Errorf("address %s not found", id))
			}
			ref = coll.Doc(id)
		}

		now := r.clock()
		doc := newAddressDocument(addr)
		doc.CreatedAt = now
		doc.UpdatedAt = now
		if current != nil {
			doc.CreatedAt = current.CreatedAt
			doc.IsDefault = addr.IsDefault || current.IsDefault
		}
		if len(existing) == 0 {
			doc.IsDefault = true
		}

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		if doc.IsDefault {
			if err := clearDefaults(tx, existing, coll, ref.ID, now); err != nil {
				return err
			}
		}
		saved = doc.toDomain(ref.ID)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.upsert", err)
	}
	return saved, nil
}

// Delete removes the address. When it was the default, the most recently updated survivor is promoted.
func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	base, err := r.base(userID)
	if err != nil {
		return err
	}
	coll, err := base.CollectionRef(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(addressID)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := base.QueryTx(tx, coll.Query)
		if err != nil {
			return err
		}
		var target *pfirestore.Document[addressDocument]
		var successor *pfirestore.Document[addressDocument]
		for i := range existing {
			doc := &existing[i]
			if doc.ID == id {
				target = doc
				continue
			}
			if successor == nil || doc.Data.UpdatedAt.After(successor.Data.UpdatedAt) {
				successor = doc
			}
		}
		if target == nil {
			return pfirestore.NotFound("addresses.delete", fmt.Errorf("address %s not found", id))
		}
		if err := tx.Delete(coll.Doc(id)); err != nil {
			return err
		}
		if target.Data.IsDefault && successor != nil && !successor.Data.IsDefault {
			return tx.Update(coll.Doc(successor.ID), []firestore.Update{{Path: "isDefault", Value: true}})
		}
		return nil
	})
	return pfirestore.WrapError("addresses.delete", err)
}

// SetDefault marks the address as default and clears the flag everywhere else.
func (r *AddressRepository) SetDefault(ctx context.Context, userID, addressID string) (domain.Address, error) {
	base, err := r.base(userID)
	if err != nil {
		return domain.Address{}, err
	}
	coll, err := base.CollectionRef(ctx)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := base.QueryTx(tx, coll.Query)
		if err != nil {
			return err
		}
		var target *addressDocument
		for i := range existing {
			if existing[i].ID == id {
				target = &existing[i].Data
			}
		}
		if target == nil {
			return pfirestore.NotFound("addresses.set_default", fmt.Errorf("address %s not found", id))
		}

		now := r.clock()
		if err := tx.Update(coll.Doc(id), []firestore.Update{
			{Path: "isDefault", Value: true},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		if err := clearDefaults(tx, existing, coll, id, now); err != nil {
			return err
		}
		target.IsDefault = true
		target.UpdatedAt = now
		saved = target.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.set_default", err)
	}
	return saved, nil
}

func (r *AddressRepository) FindByHash(ctx context.Context, userID, hash string) (domain.Address, bool, error) {
	base, err := r.base(userID)
	if err != nil {
		return domain.Address{}, false, err
	}
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return domain.Address{}, false, nil
	}
	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("hash", "==", hash).Limit(1)
	})
	if err != nil || len(docs) == 0 {
		return domain.Address{}, false, err
	}
	return docs[0].Data.toDomain(docs[0].ID), true, nil
}

func (r *AddressRepository) base(userID string) (*pfirestore.BaseRepository[addressDocument], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	return pfirestore.NewBaseRepository[addressDocument](r.provider, fmt.Sprintf(addressCollectionPattern, uid)), nil
}

// clearDefaults must run after every read of the transaction.
func clearDefaults(tx *firestore.Transaction, existing []pfirestore.Document[addressDocument], coll *firestore.CollectionRef, keepID string, now time.Time) error {
	for _, doc := range existing {
		if doc.ID == keepID || !doc.Data.IsDefault {
			continue
		}
		if err := tx.Update(coll.Doc(doc.ID), []firestore.Update{
			{Path: "isDefault", Value: false},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
	}
	return nil
}

type addressDocument struct {
	Label      string    `firestore:"label,omitempty"`
	Recipient  string    `firestore:"recipient"`
	Line1      string    `firestore:"line1"`
	Line2      *string   `firestore:"line2,omitempty"`
	City       string    `firestore:"city"`
	State      *string   `firestore:"state,omitempty"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	Phone      *string   `firestore:"phone,omitempty"`
	IsDefault  bool      `firestore:"isDefault"`
	Hash       string    `firestore:"hash"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
	// AddressID is only set on order snapshots and names the address book entry it was copied from.
	AddressID  string    `firestore:"addressId,omitempty"`
}

func newAddressDocument(addr domain.Address) addressDocument {
	hash := strings.TrimSpace(addr.NormalizedHash)
	if hash == "" {
		hash = addr.Fingerprint()
	}
	return addressDocument{
		Label:      strings.TrimSpace(addr.Label),
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      cloneOptionalString(addr.Line2),
		City:       addr.City,
		State:      cloneOptionalString(addr.State),
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      cloneOptionalString(addr.Phone),
		IsDefault:  addr.IsDefault,
		Hash:       hash,
	}
}

func (d addressDocument) toDomain(id string) domain.Address {
	return domain.Address{
		ID:             id,
		Label:          d.Label,
		Recipient:      d.Recipient,
		Line1:          d.Line1,
		Line2:          cloneOptionalString(d.Line2),
		City:           d.City,
		State:          cloneOptionalString(d.State),
		PostalCode:     d.PostalCode,
		Country:        d.Country,
		Phone:          cloneOptionalString(d.Phone),
		IsDefault:      d.IsDefault,
		NormalizedHash: d.Hash,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func cloneOptionalString(value *string) *string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	cloned := *value
	return &cloned
}
