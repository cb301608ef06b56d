package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"
)

const couponColumns = `code, type, value, minimum_order_amount, maximum_discount,
	total_available, used_count, expiration_date, is_active, created_at`

// GetCoupon retrieves a coupon by its case-insensitive code
func (s *Store) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	code = models.NormalizeCouponCode(code)

	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT "+couponColumns+" FROM coupons WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrCouponNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// CreateCoupon inserts a new coupon
func (s *Store) CreateCoupon(ctx context.Context, coupon *models.Coupon) error {
	coupon.Code = models.NormalizeCouponCode(coupon.Code)

	err := s.db.GetContext(ctx, &coupon.CreatedAt, `
		INSERT INTO coupons (code, type, value, minimum_order_amount, maximum_discount,
			total_available, used_count, expiration_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		RETURNING created_at`,
		coupon.Code, coupon.Type, coupon.Value, coupon.MinimumOrderAmount, coupon.MaximumDiscount,
		coupon.TotalAvailable, coupon.ExpirationDate, coupon.IsActive)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", models.ErrCouponExists, coupon.Code)
	}
	if err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	coupon.UsedCount = 0
	return nil
}

// IncrementCouponUsage consumes one redemption. The conditional update keeps
// used_count <= total_available under concurrent redemptions.
func (s *Store) IncrementCouponUsage(ctx context.Context, code string) error {
	code = models.NormalizeCouponCode(code)

	res, err := s.db.ExecContext(ctx,
		"UPDATE coupons SET used_count = used_count + 1 WHERE code = $1 AND used_count < total_available",
		code)
	if err != nil {
		return fmt.Errorf("failed to redeem coupon %s: %w", code, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetCoupon(ctx, code); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", models.ErrCouponExhausted, code)
}
