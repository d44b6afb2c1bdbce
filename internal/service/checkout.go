package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/model"
	"github.com/iliyamo/techland/internal/queue"
	"github.com/iliyamo/techland/internal/repository"
)

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	RunTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) error
}

// Inventory locks and updates catalog rows inside the checkout transaction.
type Inventory interface {
	LockProductTx(ctx context.Context, tx *sql.Tx, id uint64) (model.CatalogItem, error)
	DecrementStockTx(ctx context.Context, tx *sql.Tx, id uint64, qty int) error
	LockCourseTx(ctx context.Context, tx *sql.Tx, id uint64) (model.CatalogItem, error)
	IncrementStudentsTx(ctx context.Context, tx *sql.Tx, courseID uint64) error
	LockServiceTx(ctx context.Context, tx *sql.Tx, id uint64) (model.CatalogItem, error)
}

type OrderWriter interface {
	CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error
	CreateLinesBulkTx(ctx context.Context, tx *sql.Tx, orderID uint64, lines []model.OrderLine) error
}

type EnrollmentWriter interface {
	FindTx(ctx context.Context, tx *sql.Tx, userID, courseID uint64) (model.Enrollment, error)
	UpsertPaidTx(ctx context.Context, tx *sql.Tx, userID, courseID uint64) (bool, error)
}

type PaymentWriter interface {
	CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error
}

// CheckoutLedger records checkout outcomes by idempotency key.
type CheckoutLedger interface {
	Find(ctx context.Context, key string) (model.CheckoutRequest, error)
	ClaimTx(ctx context.Context, tx *sql.Tx, req model.CheckoutRequest) error
	CompleteTx(ctx context.Context, tx *sql.Tx, key string, orderID *uint64, totalCents int64) error
	FindByReference(ctx context.Context, userID uint64, reference string) (model.CheckoutRequest, error)
}

// OrderReader loads a placed order for the confirmation page.
type OrderReader interface {
	GetByNumberForUser(ctx context.Context, number string, userID uint64) (model.Order, error)
}

// EventPublisher receives the post-commit notification.
type EventPublisher interface {
	PublishCheckoutCompleted(ctx context.Context, ev queue.CheckoutCompletedEvent) error
}

// CheckoutDeps wires the checkout transaction. Events may be nil.
type CheckoutDeps struct {
	Tx          TxRunner
	Carts       *Carts
	Inventory   Inventory
	Orders      OrderWriter
	Enrollments EnrollmentWriter
	Payments    PaymentWriter
	Ledger      CheckoutLedger
	Receipts    OrderReader
	Events      EventPublisher
	Log         *zap.Logger
}

// Checkout converts a cart into orders, enrollments and payments in one
// transaction.
type Checkout struct {
	CheckoutDeps
	now          func() time.Time
	newReference func() string
}

func NewCheckout(deps CheckoutDeps) *Checkout {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Checkout{
		CheckoutDeps: deps,
		now:          time.Now,
		newReference: func() string { return "TL-" + ksuid.New().String() },
	}
}

// PaymentDetails are the checkout form fields.
type PaymentDetails struct {
	ShippingAddress string
	Method          string
	Notes           string
}

type CheckoutInput struct {
	CartID  string
	Cart    model.Cart
	UserID  uint64
	Email   string
	Payment PaymentDetails
}

// CheckoutResult describes a committed checkout, or the earlier one a
// resubmission was matched to (Replayed).
type CheckoutResult struct {
	Reference string
	OrderID   *uint64
	Totals    model.Totals
	Lines     []model.CartLine
	Courses   []uint64
	Services  []uint64
	Payments  int
	Replayed  bool
}

// checkoutKey is the idempotency key for a cart at a given revision.
func checkoutKey(cartID, revision string) string { return cartID + ":" + revision }

// Run validates the cart and commits it. Products are locked in ascending
// id order so concurrent checkouts cannot deadlock on each other. Any
// failure rolls the whole transaction back and is reported as a
// *CheckoutError. The cart is settled only after commit.
func (s *Checkout) Run(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	if len(in.Cart.Lines) == 0 {
		return CheckoutResult{}, checkoutFailure(ErrCartEmpty, "your cart is empty")
	}
	method := strings.ToLower(strings.TrimSpace(in.Payment.Method))
	if !model.ValidPaymentMethod(method) {
		return CheckoutResult{}, checkoutFailure(nil, "choose a valid payment method")
	}
	key := checkoutKey(in.CartID, in.Cart.Revision)

	if prior, err := s.Ledger.Find(ctx, key); err == nil {
		return s.replay(prior, in.UserID)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return CheckoutResult{}, s.unexpected(err, in)
	}

	enriched, err := s.Carts.Validate(ctx, in.Cart, in.UserID)
	if err != nil {
		return CheckoutResult{}, s.unexpected(err, in)
	}
	if len(enriched.Errors) > 0 {
		e := enriched.Errors[0]
		return CheckoutResult{}, checkoutFailure(e.Err, "%s", e.Message)
	}
	if len(enriched.Lines) == 0 {
		return CheckoutResult{}, checkoutFailure(ErrCartEmpty, "none of the items in your cart are available anymore")
	}

	var products, courses, services []model.CartLine
	for _, l := range enriched.Lines {
		switch l.Type {
		case model.ItemProduct:
			products = append(products, l)
		case model.ItemCourse:
			courses = append(courses, l)
		case model.ItemService:
			services = append(services, l)
		}
	}
	address := strings.TrimSpace(in.Payment.ShippingAddress)
	if len(products) > 0 && address == "" {
		return CheckoutResult{}, checkoutFailure(nil, "a shipping address is required for products")
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ItemID < products[j].ItemID })

	res := CheckoutResult{Reference: s.newReference()}
	err = s.Tx.RunTx(ctx, "checkout", func(tx *sql.Tx) error {
		res.Lines = res.Lines[:0]
		res.Courses, res.Services, res.Payments, res.OrderID = nil, nil, 0, nil

		if err := s.Ledger.ClaimTx(ctx, tx, model.CheckoutRequest{
			Key: key, UserID: in.UserID, Reference: res.Reference, TotalCents: enriched.Totals.TotalCents,
		}); err != nil {
			return err
		}

		var subtotal int64
		pay := func(typ model.PaymentType, ref uint64, groupSubtotal int64) error {
			p := model.Payment{
				UserID:      in.UserID,
				Type:        typ,
				ReferenceID: ref,
				AmountCents: model.ComputeTotals(groupSubtotal).TotalCents,
				Method:      method,
				Status:      "completed",
			}
			if err := s.Payments.CreateTx(ctx, tx, &p); err != nil {
				return err
			}
			res.Payments++
			return nil
		}

		if len(products) > 0 {
			lines := make([]model.OrderLine, 0, len(products))
			var productSubtotal int64
			for _, l := range products {
				it, err := s.Inventory.LockProductTx(ctx, tx, l.ItemID)
				if errors.Is(err, repository.ErrNotFound) || (err == nil && !it.IsActive) {
					return checkoutFailure(ErrItemUnavailable, "%s is no longer available", l.Name)
				}
				if err != nil {
					return err
				}
				if it.Stock < l.Quantity {
					return checkoutFailure(ErrItemUnavailable, "not enough stock for %s (only %d left)", it.Name, it.Stock)
				}
				if err := s.Inventory.DecrementStockTx(ctx, tx, it.ID, l.Quantity); err != nil {
					if errors.Is(err, repository.ErrInsufficientStock) {
						return checkoutFailure(ErrItemUnavailable, "not enough stock for %s", it.Name)
					}
					return err
				}
				lineSubtotal := it.PriceCents * int64(l.Quantity)
				lines = append(lines, model.OrderLine{
					ProductID:      it.ID,
					Name:           it.Name,
					Quantity:       l.Quantity,
					UnitPriceCents: it.PriceCents,
					SubtotalCents:  lineSubtotal,
				})
				productSubtotal += lineSubtotal
				res.Lines = append(res.Lines, model.CartLine{ItemID: it.ID, Type: model.ItemProduct, Name: it.Name,
					UnitPriceCents: it.PriceCents, Quantity: l.Quantity})
			}
			totals := model.ComputeTotals(productSubtotal)
			order := model.Order{
				UserID:          in.UserID,
				OrderNumber:     res.Reference,
				SubtotalCents:   totals.SubtotalCents,
				TaxCents:        totals.TaxCents,
				TotalCents:      totals.TotalCents,
				ShippingAddress: address,
				Notes:           strings.TrimSpace(in.Payment.Notes),
				Status:          model.OrderPending,
			}
			if err := s.Orders.CreateTx(ctx, tx, &order); err != nil {
				return err
			}
			if err := s.Orders.CreateLinesBulkTx(ctx, tx, order.ID, lines); err != nil {
				return err
			}
			if err := pay(model.PaymentOrder, order.ID, productSubtotal); err != nil {
				return err
			}
			id := order.ID
			res.OrderID = &id
			subtotal += productSubtotal
		}

		for _, l := range courses {
			it, err := s.Inventory.LockCourseTx(ctx, tx, l.ItemID)
			if errors.Is(err, repository.ErrNotFound) || (err == nil && !it.IsActive) {
				return checkoutFailure(ErrItemUnavailable, "%s is no longer available", l.Name)
			}
			if err != nil {
				return err
			}
			existing, err := s.Enrollments.FindTx(ctx, tx, in.UserID, it.ID)
			if err == nil && existing.PaymentStatus == model.EnrollmentPaid {
				return checkoutFailure(ErrAlreadyEnrolled, "you are already enrolled in %s", it.Name)
			}
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			inserted, err := s.Enrollments.UpsertPaidTx(ctx, tx, in.UserID, it.ID)
			if err != nil {
				return err
			}
			if inserted {
				if err := s.Inventory.IncrementStudentsTx(ctx, tx, it.ID); err != nil {
					return err
				}
			}
			if err := pay(model.PaymentCourse, it.ID, it.PriceCents); err != nil {
				return err
			}
			subtotal += it.PriceCents
			res.Courses = append(res.Courses, it.ID)
			res.Lines = append(res.Lines, model.CartLine{ItemID: it.ID, Type: model.ItemCourse, Name: it.Name,
				UnitPriceCents: it.PriceCents, Quantity: 1})
		}

		for _, l := range services {
			it, err := s.Inventory.LockServiceTx(ctx, tx, l.ItemID)
			if errors.Is(err, repository.ErrNotFound) || (err == nil && !it.IsActive) {
				return checkoutFailure(ErrItemUnavailable, "%s is no longer available", l.Name)
			}
			if err != nil {
				return err
			}
			if err := pay(model.PaymentService, it.ID, it.PriceCents); err != nil {
				return err
			}
			subtotal += it.PriceCents
			res.Services = append(res.Services, it.ID)
			res.Lines = append(res.Lines, model.CartLine{ItemID: it.ID, Type: model.ItemService, Name: it.Name,
				UnitPriceCents: it.PriceCents, Quantity: 1})
		}

		res.Totals = model.ComputeTotals(subtotal)
		return s.Ledger.CompleteTx(ctx, tx, key, res.OrderID, res.Totals.TotalCents)
	})

	if errors.Is(err, repository.ErrCheckoutReplayed) {
		prior, findErr := s.Ledger.Find(ctx, key)
		if findErr != nil {
			return CheckoutResult{}, s.unexpected(findErr, in)
		}
		return s.replay(prior, in.UserID)
	}
	var ce *CheckoutError
	if errors.As(err, &ce) {
		s.Log.Info("checkout rejected", zap.Uint64("user_id", in.UserID), zap.String("reason", ce.Reason))
		return CheckoutResult{}, ce
	}
	if err != nil {
		return CheckoutResult{}, s.unexpected(err, in)
	}

	s.afterCommit(ctx, in, method, res)
	return res, nil
}

func (s *Checkout) replay(prior model.CheckoutRequest, userID uint64) (CheckoutResult, error) {
	if prior.UserID != userID {
		return CheckoutResult{}, checkoutFailure(nil, "this cart was already checked out")
	}
	return CheckoutResult{
		Reference: prior.Reference,
		OrderID:   prior.OrderID,
		Totals:    model.Totals{TotalCents: prior.TotalCents},
		Replayed:  true,
	}, nil
}

func (s *Checkout) unexpected(err error, in CheckoutInput) error {
	s.Log.Error("checkout failed", zap.Uint64("user_id", in.UserID), zap.String("cart_id", in.CartID), zap.Error(err))
	return checkoutFailure(err, "we could not complete your purchase, please try again")
}

// afterCommit publishes the event and settles the cart. Neither step can
// undo the purchase, so failures are only logged.
func (s *Checkout) afterCommit(ctx context.Context, in CheckoutInput, method string, res CheckoutResult) {
	if s.Events != nil {
		ev := queue.CheckoutCompletedEvent{
			Reference:     res.Reference,
			UserID:        in.UserID,
			Email:         in.Email,
			SubtotalCents: res.Totals.SubtotalCents,
			TaxCents:      res.Totals.TaxCents,
			TotalCents:    res.Totals.TotalCents,
			PaymentMethod: method,
			CompletedAt:   s.now().UTC().Format(time.RFC3339),
		}
		if res.OrderID != nil {
			ev.OrderID = *res.OrderID
		}
		for _, l := range res.Lines {
			ev.Items = append(ev.Items, queue.EventItem{Type: string(l.Type), ID: l.ItemID, Name: l.Name,
				Quantity: l.Quantity, UnitPriceCents: l.UnitPriceCents})
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		if err := s.Events.PublishCheckoutCompleted(pctx, ev); err != nil {
			s.Log.Warn("checkout event not published", zap.String("reference", res.Reference), zap.Error(err))
		}
		cancel()
	}
	if _, err := s.Carts.settle(context.WithoutCancel(ctx), in.CartID, in.Cart.Revision, res.Lines); err != nil {
		s.Log.Warn("cart not cleared after checkout", zap.String("cart_id", in.CartID), zap.Error(err))
	}
}

// Receipt is what the success page shows for a reference.
type Receipt struct {
	Reference  string
	TotalCents int64
	CreatedAt  time.Time
	Order      *model.Order
}

// Receipt loads a committed checkout of userID by its reference. Other
// users' references are reported as ErrItemNotFound.
func (s *Checkout) Receipt(ctx context.Context, userID uint64, reference string) (Receipt, error) {
	req, err := s.Ledger.FindByReference(ctx, userID, strings.TrimSpace(reference))
	if errors.Is(err, repository.ErrNotFound) {
		return Receipt{}, ErrItemNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	r := Receipt{Reference: req.Reference, TotalCents: req.TotalCents, CreatedAt: req.CreatedAt}
	if req.OrderID != nil && s.Receipts != nil {
		o, err := s.Receipts.GetByNumberForUser(ctx, req.Reference, userID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return Receipt{}, err
		}
		if err == nil {
			r.Order = &o
		}
	}
	return r, nil
}
