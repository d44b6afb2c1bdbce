package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/techland/internal/model"
	"github.com/iliyamo/techland/internal/repository"
)

// CartStore persists carts keyed by the browser's cart id.
type CartStore interface {
	Load(ctx context.Context, sid string) (model.Cart, error)
	Mutate(ctx context.Context, sid string, fn func(*model.Cart) error) (model.Cart, error)
	Delete(ctx context.Context, sid string) error
	ClearIfRevision(ctx context.Context, sid, revision string) (bool, error)
}

// Catalog returns the current state of a product, course or service.
type Catalog interface {
	Lookup(ctx context.Context, typ model.ItemType, id uint64) (model.CatalogItem, error)
}

// EnrollmentChecker reports paid enrollments.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, userID, courseID uint64) (bool, error)
}

// Carts implements the cart operations behind /cart.
type Carts struct {
	store       CartStore
	catalog     Catalog
	enrollments EnrollmentChecker
}

func NewCarts(store CartStore, catalog Catalog, enrollments EnrollmentChecker) *Carts {
	return &Carts{store: store, catalog: catalog, enrollments: enrollments}
}

// activeItem looks an item up and hides missing and inactive ones behind
// ErrItemNotFound.
func (s *Carts) activeItem(ctx context.Context, typ model.ItemType, id uint64) (model.CatalogItem, error) {
	if !typ.Valid() {
		return model.CatalogItem{}, ErrInvalidItemType
	}
	it, err := s.catalog.Lookup(ctx, typ, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.CatalogItem{}, ErrItemNotFound
	}
	if err != nil {
		return model.CatalogItem{}, err
	}
	if !it.IsActive {
		return model.CatalogItem{}, ErrItemNotFound
	}
	return it, nil
}

// Get returns the cart for sid.
func (s *Carts) Get(ctx context.Context, sid string) (model.Cart, error) {
	return s.store.Load(ctx, sid)
}

// Add puts an item in the cart. Products accumulate quantity up to the
// available stock; courses and services are single-unit and may appear
// once. A course the user already paid for is rejected. userID 0 means
// anonymous, in which case enrollment is checked again at checkout.
func (s *Carts) Add(ctx context.Context, sid string, userID uint64, typ model.ItemType, id uint64, qty int) (model.Cart, error) {
	if qty < 1 || typ.SingleUnit() {
		qty = 1
	}
	it, err := s.activeItem(ctx, typ, id)
	if err != nil {
		return model.Cart{}, err
	}
	if typ == model.ItemCourse && userID != 0 {
		enrolled, err := s.enrollments.IsEnrolled(ctx, userID, id)
		if err != nil {
			return model.Cart{}, err
		}
		if enrolled {
			return model.Cart{}, ErrAlreadyEnrolled
		}
	}
	return s.store.Mutate(ctx, sid, func(c *model.Cart) error {
		i := c.Find(typ, id)
		if i >= 0 && typ.SingleUnit() {
			return ErrDuplicateCartItem
		}
		want := qty
		if i >= 0 {
			want += c.Lines[i].Quantity
		}
		if typ == model.ItemProduct && want > it.Stock {
			return fmt.Errorf("%w: only %d of %s in stock", ErrItemUnavailable, it.Stock, it.Name)
		}
		if i >= 0 {
			c.Lines[i].Quantity = want
			return nil
		}
		c.Lines = append(c.Lines, model.CartLine{
			ItemID:         id,
			Type:           typ,
			Name:           it.Name,
			UnitPriceCents: it.PriceCents,
			Quantity:       want,
		})
		return nil
	})
}

// Update sets the quantity of a product line. A quantity of zero or less
// removes the line; course and service lines stay at one.
func (s *Carts) Update(ctx context.Context, sid string, typ model.ItemType, id uint64, qty int) (model.Cart, error) {
	if qty <= 0 {
		return s.Remove(ctx, sid, typ, id)
	}
	if !typ.Valid() {
		return model.Cart{}, ErrInvalidItemType
	}
	stock := 0
	if typ == model.ItemProduct {
		it, err := s.activeItem(ctx, typ, id)
		if err != nil {
			return model.Cart{}, err
		}
		stock = it.Stock
	}
	return s.store.Mutate(ctx, sid, func(c *model.Cart) error {
		i := c.Find(typ, id)
		if i < 0 {
			return ErrItemNotFound
		}
		if typ.SingleUnit() {
			c.Lines[i].Quantity = 1
			return nil
		}
		if qty > stock {
			return fmt.Errorf("%w: only %d of %s in stock", ErrItemUnavailable, stock, c.Lines[i].Name)
		}
		c.Lines[i].Quantity = qty
		return nil
	})
}

// Remove drops a line; removing an absent line is not an error.
func (s *Carts) Remove(ctx context.Context, sid string, typ model.ItemType, id uint64) (model.Cart, error) {
	return s.store.Mutate(ctx, sid, func(c *model.Cart) error {
		if i := c.Find(typ, id); i >= 0 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		}
		return nil
	})
}

// Clear empties the cart.
func (s *Carts) Clear(ctx context.Context, sid string) error {
	return s.store.Delete(ctx, sid)
}

// ItemError explains why a cart line cannot be checked out as is.
type ItemError struct {
	ItemID  uint64         `json:"id"`
	Type    model.ItemType `json:"type"`
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
}

// EnrichedCart is a cart re-read against the current catalog.
type EnrichedCart struct {
	Lines   []model.CartLine `json:"lines"`
	Dropped []model.CartLine `json:"dropped,omitempty"`
	Errors  []ItemError      `json:"errors,omitempty"`
	Totals  model.Totals     `json:"totals"`
}

// Valid reports whether the cart can go to checkout.
func (e EnrichedCart) Valid() bool { return len(e.Errors) == 0 && len(e.Lines) > 0 }

// Validate re-fetches price and availability for every line. Lines whose
// item no longer exists or was deactivated are dropped; products short on
// stock and courses the user already owns become item errors. Totals use
// current prices.
func (s *Carts) Validate(ctx context.Context, cart model.Cart, userID uint64) (EnrichedCart, error) {
	var out EnrichedCart
	var subtotal int64
	for _, l := range cart.Lines {
		it, err := s.activeItem(ctx, l.Type, l.ItemID)
		if errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrInvalidItemType) {
			out.Dropped = append(out.Dropped, l)
			continue
		}
		if err != nil {
			return EnrichedCart{}, err
		}
		line := l
		line.Name = it.Name
		line.UnitPriceCents = it.PriceCents
		if line.Type.SingleUnit() {
			line.Quantity = 1
		}
		switch line.Type {
		case model.ItemProduct:
			if it.Stock < line.Quantity {
				out.Errors = append(out.Errors, ItemError{
					ItemID: line.ItemID, Type: line.Type, Name: it.Name, Err: ErrItemUnavailable,
					Message: fmt.Sprintf("only %d of %s in stock", it.Stock, it.Name),
				})
			}
		case model.ItemCourse:
			if userID != 0 {
				enrolled, err := s.enrollments.IsEnrolled(ctx, userID, line.ItemID)
				if err != nil {
					return EnrichedCart{}, err
				}
				if enrolled {
					out.Errors = append(out.Errors, ItemError{
						ItemID: line.ItemID, Type: line.Type, Name: it.Name, Err: ErrAlreadyEnrolled,
						Message: fmt.Sprintf("you are already enrolled in %s", it.Name),
					})
				}
			}
		}
		subtotal += line.SubtotalCents()
		out.Lines = append(out.Lines, line)
	}
	out.Totals = model.ComputeTotals(subtotal)
	return out, nil
}

// settle removes purchased lines after a committed checkout. The whole cart
// is deleted when it is unchanged since checkout began; otherwise only the
// purchased lines go and anything added meanwhile stays.
func (s *Carts) settle(ctx context.Context, sid, revision string, purchased []model.CartLine) (bool, error) {
	cleared, err := s.store.ClearIfRevision(ctx, sid, revision)
	if err != nil || cleared {
		return cleared, err
	}
	_, err = s.store.Mutate(ctx, sid, func(c *model.Cart) error {
		for _, p := range purchased {
			if i := c.Find(p.Type, p.ItemID); i >= 0 {
				c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			}
		}
		return nil
	})
	return false, err
}
