package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// CouponValidation is the verdict for one code against one order amount.
type CouponValidation struct {
	Valid    bool            `json:"valid"`
	Coupon   *models.Coupon  `json:"coupon,omitempty"`
	Discount decimal.Decimal `json:"discount"`
	Reason   string          `json:"reason,omitempty"`
	Message  string          `json:"message"`
	Err      error           `json:"-"`
}

// CouponValidator evaluates and redeems coupons.
type CouponValidator struct {
	repo   CouponRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewCouponValidator creates a new coupon validator
func NewCouponValidator(repo CouponRepository) *CouponValidator {
	return &CouponValidator{
		repo:   repo,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Validate checks code against orderAmount. The first failing check wins:
// missing or inactive, expired, exhausted, below minimum. Only store
// failures are returned as errors.
func (v *CouponValidator) Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (*CouponValidation, error) {
	ctx, span := util.StartSpan(ctx, "CouponValidator.Validate")
	defer span.End()

	coupon, err := v.repo.GetCoupon(ctx, models.NormalizeCouponCode(code))
	if err != nil && !errors.Is(err, models.ErrCouponNotFound) {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}

	if verr := v.check(coupon, orderAmount); verr != nil {
		reason := models.CouponErrorCode(verr)
		util.CouponValidationsTotal.WithLabelValues(reason).Inc()
		return &CouponValidation{Valid: false, Reason: reason, Message: verr.Error(), Err: verr}, nil
	}

	util.CouponValidationsTotal.WithLabelValues("valid").Inc()
	discount := ComputeDiscount(coupon, orderAmount)
	return &CouponValidation{
		Valid:    true,
		Coupon:   coupon,
		Discount: discount,
		Message:  fmt.Sprintf("coupon %s applied: %s off", coupon.Code, discount.StringFixed(2)),
	}, nil
}

func (v *CouponValidator) check(c *models.Coupon, orderAmount decimal.Decimal) error {
	switch {
	case c == nil || !c.IsActive:
		return models.ErrCouponNotFound
	case !c.ExpirationDate.After(v.now()):
		return fmt.Errorf("%w on %s", models.ErrCouponExpired, c.ExpirationDate.Format("2006-01-02"))
	case c.UsedCount >= c.TotalAvailable:
		return models.ErrCouponExhausted
	case orderAmount.LessThan(c.MinimumOrderAmount):
		return fmt.Errorf("%w of %s", models.ErrCouponBelowMinimum, c.MinimumOrderAmount.StringFixed(2))
	}
	return nil
}

// ComputeDiscount applies the coupon formula to orderAmount, rounded half-up
// to 2 places. The discount never exceeds the order amount.
func ComputeDiscount(c *models.Coupon, orderAmount decimal.Decimal) decimal.Decimal {
	if orderAmount.IsNegative() || orderAmount.IsZero() {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch c.Type {
	case models.CouponPercentage:
		d = orderAmount.Mul(c.Value).Div(hundred)
		if c.MaximumDiscount.Valid && d.GreaterThan(c.MaximumDiscount.Decimal) {
			d = c.MaximumDiscount.Decimal
		}
	case models.CouponFixed:
		d = c.Value
	default:
		return decimal.Zero
	}

	d = decimal.Min(d, orderAmount)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}

// Redeem consumes one use of the coupon. Call only after the order is persisted.
func (v *CouponValidator) Redeem(ctx context.Context, code string) error {
	ctx, span := util.StartSpan(ctx, "CouponValidator.Redeem")
	defer span.End()

	code = models.NormalizeCouponCode(code)
	if err := v.repo.IncrementCouponUsage(ctx, code); err != nil {
		util.CouponRedemptionsTotal.WithLabelValues("failed").Inc()
		return err
	}

	util.CouponRedemptionsTotal.WithLabelValues("redeemed").Inc()
	v.logger.Info("Coupon redeemed", zap.String("code", code))
	return nil
}

// Get returns a coupon by code.
func (v *CouponValidator) Get(ctx context.Context, code string) (*models.Coupon, error) {
	return v.repo.GetCoupon(ctx, models.NormalizeCouponCode(code))
}

// Create validates and stores a new coupon.
func (v *CouponValidator) Create(ctx context.Context, c *models.Coupon) error {
	ctx, span := util.StartSpan(ctx, "CouponValidator.Create")
	defer span.End()

	c.Code = models.NormalizeCouponCode(c.Code)
	if err := validateCoupon(c); err != nil {
		return err
	}
	if err := v.repo.CreateCoupon(ctx, c); err != nil {
		return err
	}

	v.logger.Info("Coupon created",
		zap.String("code", c.Code),
		zap.String("type", string(c.Type)),
		zap.Int("total_available", c.TotalAvailable))
	return nil
}

func validateCoupon(c *models.Coupon) error {
	switch {
	case c.Code == "":
		return fmt.Errorf("%w: code is required", models.ErrInvalidRequest)
	case c.Type != models.CouponPercentage && c.Type != models.CouponFixed:
		return fmt.Errorf("%w: type must be percentage or fixed", models.ErrInvalidRequest)
	case !c.Value.IsPositive():
		return fmt.Errorf("%w: value must be positive", models.ErrInvalidRequest)
	case c.Type == models.CouponPercentage && c.Value.GreaterThan(hundred):
		return fmt.Errorf("%w: percentage above 100", models.ErrInvalidRequest)
	case c.Type == models.CouponFixed && c.MaximumDiscount.Valid:
		return fmt.Errorf("%w: maximumDiscount applies to percentage coupons only", models.ErrInvalidRequest)
	case c.MaximumDiscount.Valid && !c.MaximumDiscount.Decimal.IsPositive():
		return fmt.Errorf("%w: maximumDiscount must be positive", models.ErrInvalidRequest)
	case c.MinimumOrderAmount.IsNegative():
		return fmt.Errorf("%w: minimumOrderAmount must not be negative", models.ErrInvalidRequest)
	case c.TotalAvailable < 1:
		return fmt.Errorf("%w: totalAvailable must be at least 1", models.ErrInvalidRequest)
	case c.ExpirationDate.IsZero():
		return fmt.Errorf("%w: expirationDate is required", models.ErrInvalidRequest)
	}
	return nil
}
