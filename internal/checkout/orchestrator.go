package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/example/gym-checkout/internal/domain/cart"
	"github.com/example/gym-checkout/internal/domain/catalog"
	"github.com/example/gym-checkout/internal/domain/inventory"
	"github.com/example/gym-checkout/internal/domain/membership"
	"github.com/example/gym-checkout/internal/domain/order"
	"go.uber.org/zap"
)

// DefaultRollbackTimeout bounds compensation after an abort
const DefaultRollbackTimeout = 5 * time.Second

// MembershipStore reads and persists membership state
type MembershipStore interface {
	Get(ctx context.Context, userID string) (membership.State, error)
	Save(ctx context.Context, next membership.State) error
	Revert(ctx context.Context, previous membership.State) error
}

// OrderRecorder appends to the order log
type OrderRecorder interface {
	Record(ctx context.Context, o order.Order) error
}

// CartClearer takes the purchased lines out of a user's cart after commit
type CartClearer interface {
	RemovePurchased(ctx context.Context, userID, orderID string, bought cart.Snapshot) error
}

// ReminderPublisher hands renewal reminders to an external scheduler
type ReminderPublisher interface {
	PublishReminder(ctx context.Context, r membership.RenewalReminder) error
}

// Deps are the collaborators of the orchestrator. Reminders may be nil.
type Deps struct {
	Catalog     catalog.Catalog
	Ledger      inventory.Ledger
	Memberships MembershipStore
	Orders      OrderRecorder
	Carts       CartClearer
	Reminders   ReminderPublisher
}

type Config struct {
	Policy          membership.Policy
	RollbackTimeout time.Duration
	Now             func() time.Time
}

// Request is one checkout. Cart is a snapshot taken by the caller.
type Request struct {
	UserID string
	Cart   cart.Snapshot
	SiteID *int64
}

type Result struct {
	Order               order.Order `json:"order"`
	MembershipActivated bool        `json:"membership_activated"`
	CartCleared         bool        `json:"cart_cleared"`
}

// Orchestrator turns a cart snapshot into an order, all-or-nothing.
type Orchestrator struct {
	deps            Deps
	policy          membership.Policy
	rollbackTimeout time.Duration
	now             func() time.Time
	gate            *gate
	logger          *zap.Logger
}

func NewOrchestrator(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = DefaultRollbackTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		deps:            deps,
		policy:          cfg.Policy,
		rollbackTimeout: cfg.RollbackTimeout,
		now:             cfg.Now,
		gate:            newGate(),
		logger:          logger.Named("checkout"),
	}
}

// attempt tracks the side effects of one checkout so they can be undone.
type attempt struct {
	state    State
	reserved []cart.Line

	activated bool
	previous  membership.State
	next      membership.State

	logger *zap.Logger
}

func (a *attempt) advance(next State) {
	if !a.state.CanTransitionTo(next) {
		a.logger.DPanic("invalid checkout transition",
			zap.String("from", string(a.state)),
			zap.String("to", string(next)),
		)
	}
	a.logger.Debug("checkout transition",
		zap.String("from", string(a.state)),
		zap.String("to", string(next)),
	)
	a.state = next
}

// plan is what validation resolved from the snapshot
type plan struct {
	lines    []cart.Line
	products map[int64]catalog.Product
	plans    []cart.Line
	merch    []cart.Line
	current  membership.State
	site     catalog.Site
	duration time.Duration
}

// Checkout runs one attempt. On failure the error is a *Failure and no
// reservation or membership change of the attempt persists.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (*Result, error) {
	release, err := o.gate.acquire(ctx, req.UserID)
	if err != nil {
		return nil, newFailure(ErrCancelled, err)
	}
	defer release()

	a := &attempt{
		state:  StateValidating,
		logger: o.logger.With(zap.String("user_id", req.UserID)),
	}
	now := o.now()

	p, f := o.validate(ctx, req, now)
	if f != nil {
		return o.abort(ctx, a, f)
	}
	if err := ctx.Err(); err != nil {
		return o.abort(ctx, a, newFailure(ErrCancelled, err))
	}

	if len(p.merch) > 0 {
		a.advance(StateReservingStock)
		if f := o.reserve(ctx, a, p.merch); f != nil {
			return o.abort(ctx, a, f)
		}
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, a, newFailure(ErrCancelled, err))
		}
	}

	if len(p.plans) > 0 {
		a.advance(StateActivatingMembership)
		end := now.Add(p.duration)
		next := o.policy.Activate(p.current, end, catalog.ToMembershipSite(p.site))
		if err := o.deps.Memberships.Save(ctx, next); err != nil {
			return o.abort(ctx, a, o.infraFailure(ctx, fmt.Errorf("save membership: %w", err)))
		}
		a.activated = true
		a.previous = p.current
		a.next = next
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, a, newFailure(ErrCancelled, err))
		}
	}

	a.advance(StateRecordingOrder)
	ord, err := order.New(req.UserID, orderItems(p.lines, p.products), now, a.activated)
	if err != nil {
		return o.abort(ctx, a, newFailure(ErrPersistence, err))
	}
	if err := o.deps.Orders.Record(ctx, ord); err != nil {
		return o.abort(ctx, a, o.infraFailure(ctx, fmt.Errorf("record order: %w", err)))
	}
	a.advance(StateCommitted)

	a.logger.Info("checkout committed",
		zap.String("order_id", ord.ID),
		zap.Int64("total_amount", ord.TotalAmount),
		zap.Bool("membership_activated", a.activated),
	)

	res := &Result{Order: ord, MembershipActivated: a.activated}
	o.afterCommit(ctx, a, req, res)
	return res, nil
}

func (o *Orchestrator) validate(ctx context.Context, req Request, now time.Time) (*plan, *Failure) {
	if req.Cart.IsEmpty() {
		return nil, newFailure(ErrEmptyCart, nil)
	}

	p := &plan{
		lines:    req.Cart.Lines(),
		products: make(map[int64]catalog.Product),
	}
	for _, l := range p.lines {
		if l.Quantity <= 0 || l.Quantity > cart.MaxLineQuantity {
			return nil, newFailure(ErrInvalidQuantity, fmt.Errorf("product %d: quantity %d", l.ProductID, l.Quantity))
		}
		product, err := o.deps.Catalog.Product(ctx, l.ProductID)
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, newFailure(ErrUnknownProduct, fmt.Errorf("product %d: %w", l.ProductID, err))
		}
		if err != nil {
			return nil, o.infraFailure(ctx, fmt.Errorf("lookup product %d: %w", l.ProductID, err))
		}
		p.products[l.ProductID] = product

		if l.Kind == catalog.KindPlan {
			p.plans = append(p.plans, l)
		} else {
			p.merch = append(p.merch, l)
		}
	}

	if len(p.plans) == 0 {
		return p, nil
	}
	d, ok := planDuration(p.plans, p.products)
	if !ok || now.Add(d).Before(now) {
		return nil, newFailure(ErrInvalidQuantity, errors.New("plan lines extend the membership past the supported range"))
	}
	p.duration = d

	current, err := o.deps.Memberships.Get(ctx, req.UserID)
	if err != nil {
		return nil, o.infraFailure(ctx, fmt.Errorf("load membership: %w", err))
	}
	if !o.policy.CanPurchaseNewPlan(current, now) {
		return nil, newFailure(ErrRenewalNotEligible, nil)
	}
	p.current = current

	if req.SiteID == nil {
		return nil, newFailure(ErrSiteRequired, nil)
	}
	site, err := o.deps.Catalog.Site(ctx, *req.SiteID)
	if errors.Is(err, catalog.ErrSiteNotFound) {
		return nil, newFailure(ErrSiteRequired, fmt.Errorf("site %d: %w", *req.SiteID, err))
	}
	if err != nil {
		return nil, o.infraFailure(ctx, fmt.Errorf("lookup site %d: %w", *req.SiteID, err))
	}
	p.site = site
	return p, nil
}

// reserve decrements merch lines in order and stops at the first line that
// cannot be covered. The remaining lines are only peeked so the failure
// lists every shortage.
func (o *Orchestrator) reserve(ctx context.Context, a *attempt, merch []cart.Line) *Failure {
	for i, l := range merch {
		ok, err := o.deps.Ledger.TryDecrement(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return o.infraFailure(ctx, fmt.Errorf("decrement product %d: %w", l.ProductID, err))
		}
		if ok {
			a.reserved = append(a.reserved, l)
			continue
		}

		shortages := []Shortage{o.shortage(ctx, l)}
		for _, rest := range merch[i+1:] {
			available, err := o.deps.Ledger.AvailableQuantity(ctx, rest.ProductID)
			if err != nil {
				a.logger.Warn("failed to peek stock", zap.Int64("product_id", rest.ProductID), zap.Error(err))
				continue
			}
			if available == nil || *available < rest.Quantity {
				shortages = append(shortages, Shortage{ProductID: rest.ProductID, Requested: rest.Quantity, Available: available})
			}
		}
		return &Failure{Reason: ErrInsufficientStock, Shortages: shortages}
	}
	return nil
}

func (o *Orchestrator) shortage(ctx context.Context, l cart.Line) Shortage {
	s := Shortage{ProductID: l.ProductID, Requested: l.Quantity}
	available, err := o.deps.Ledger.AvailableQuantity(ctx, l.ProductID)
	if err != nil {
		o.logger.Warn("failed to peek stock", zap.Int64("product_id", l.ProductID), zap.Error(err))
		return s
	}
	s.Available = available
	return s
}

// infraFailure classifies a collaborator error. A done context wins so an
// abandoned request reports cancellation rather than a storage fault.
func (o *Orchestrator) infraFailure(ctx context.Context, err error) *Failure {
	if ctx.Err() != nil {
		return newFailure(ErrCancelled, errors.Join(ctx.Err(), err))
	}
	return newFailure(ErrPersistence, err)
}

// abort undoes the attempt and returns f, or a persistence failure when the
// undo itself did not complete.
func (o *Orchestrator) abort(ctx context.Context, a *attempt, f *Failure) (*Result, error) {
	if err := o.compensate(ctx, a); err != nil {
		a.logger.Error("checkout rollback failed",
			zap.String("reason", f.Code()),
			zap.Error(err),
		)
		f = &Failure{
			Reason:    ErrPersistence,
			Original:  f.Reason,
			Shortages: f.Shortages,
			Err:       err,
		}
	}
	from := a.state
	a.advance(StateAborted)
	a.logger.Info("checkout aborted",
		zap.String("reason", f.Code()),
		zap.String("at", string(from)),
		zap.Error(f.Err),
	)
	return nil, f
}

// compensate runs detached from ctx so a cancelled request still releases
// what it reserved.
func (o *Orchestrator) compensate(ctx context.Context, a *attempt) error {
	if !a.activated && len(a.reserved) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.rollbackTimeout)
	defer cancel()

	var errs []error
	if a.activated {
		if err := o.deps.Memberships.Revert(cctx, a.previous); err != nil {
			errs = append(errs, fmt.Errorf("revert membership: %w", err))
		} else {
			a.activated = false
		}
	}
	for i := len(a.reserved) - 1; i >= 0; i-- {
		l := a.reserved[i]
		if err := o.deps.Ledger.Release(cctx, l.ProductID, l.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("release product %d x%d: %w", l.ProductID, l.Quantity, err))
		}
	}
	a.reserved = nil
	return errors.Join(errs...)
}

// afterCommit performs the side effects that cannot undo a recorded order.
// Lines added to the cart while the checkout ran stay in it.
func (o *Orchestrator) afterCommit(ctx context.Context, a *attempt, req Request, res *Result) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.rollbackTimeout)
	defer cancel()

	if err := o.deps.Carts.RemovePurchased(cctx, req.UserID, res.Order.ID, req.Cart); err != nil {
		a.logger.Error("failed to clear cart after commit",
			zap.String("order_id", res.Order.ID),
			zap.Error(err),
		)
	} else {
		res.CartCleared = true
	}

	if !res.MembershipActivated || o.deps.Reminders == nil {
		return
	}
	reminder, ok := o.policy.Reminder(a.next, res.Order.ID)
	if !ok {
		return
	}
	if err := o.deps.Reminders.PublishReminder(cctx, reminder); err != nil {
		a.logger.Warn("failed to publish renewal reminder",
			zap.String("order_id", res.Order.ID),
			zap.Error(err),
		)
	}
}

// planDuration stacks the durations of all plan lines. ok is false when the
// sum does not fit in a Duration.
func planDuration(plans []cart.Line, products map[int64]catalog.Product) (d time.Duration, ok bool) {
	for _, l := range plans {
		unit := products[l.ProductID].PlanDuration
		if unit < 0 || l.Quantity <= 0 {
			return 0, false
		}
		if unit > 0 && time.Duration(l.Quantity) > (math.MaxInt64-d)/unit {
			return 0, false
		}
		d += unit * time.Duration(l.Quantity)
	}
	return d, true
}

func orderItems(lines []cart.Line, products map[int64]catalog.Product) []order.Item {
	items := make([]order.Item, len(lines))
	for i, l := range lines {
		items[i] = order.Item{
			ProductID: l.ProductID,
			Name:      products[l.ProductID].Name,
			Kind:      l.Kind,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	return items
}
