package checkout

import (
	"errors"
	"fmt"
	"strings"
)

// Checkout failure reasons
var (
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrSiteRequired       = errors.New("a site must be selected for plan purchases")
	ErrRenewalNotEligible = errors.New("membership is not eligible for renewal yet")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrPersistence        = errors.New("persistence failure")
	ErrCancelled          = errors.New("checkout cancelled")
)

var reasonCodes = map[error]string{
	ErrInvalidQuantity:    "invalid_quantity",
	ErrEmptyCart:          "empty_cart",
	ErrSiteRequired:       "site_required",
	ErrRenewalNotEligible: "membership_renewal_not_eligible",
	ErrInsufficientStock:  "insufficient_stock",
	ErrUnknownProduct:     "unknown_product",
	ErrPersistence:        "persistence_failure",
	ErrCancelled:          "cancelled",
}

// Shortage describes one merchandise line that could not be reserved.
// Available is nil when the product is not stock-tracked.
type Shortage struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available *int  `json:"available"`
}

// Failure is the typed result of an aborted checkout. By the time a Failure
// is returned, every stock reservation and membership change of the attempt
// has been undone, unless Reason is ErrPersistence with Original set.
type Failure struct {
	Reason    error
	Original  error // set when rollback itself failed
	Shortages []Shortage
	Err       error
}

func newFailure(reason, err error) *Failure {
	return &Failure{Reason: reason, Err: err}
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString("checkout aborted: ")
	b.WriteString(f.Reason.Error())
	if f.Original != nil {
		fmt.Fprintf(&b, " (rolling back %v)", f.Original)
	}
	if len(f.Shortages) > 0 {
		ids := make([]string, len(f.Shortages))
		for i, s := range f.Shortages {
			ids[i] = fmt.Sprintf("%d", s.ProductID)
		}
		fmt.Fprintf(&b, " for products [%s]", strings.Join(ids, ", "))
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the failure reason.
func (f *Failure) Is(target error) bool {
	return target == f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Code is the stable machine-readable name of the reason.
func (f *Failure) Code() string {
	if code, ok := reasonCodes[f.Reason]; ok {
		return code
	}
	return "unknown"
}
