package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Size is a garment size label.
type Size string

const (
	SizeS  Size = "S"
	SizeM  Size = "M"
	SizeL  Size = "L"
	SizeXL Size = "XL"
)

// AllSizes is the fixed size set, in display order.
var AllSizes = []Size{SizeS, SizeM, SizeL, SizeXL}

// ParseSize normalizes a size label and rejects anything outside the fixed set.
func ParseSize(s string) (Size, error) {
	candidate := Size(strings.ToUpper(strings.TrimSpace(s)))
	for _, size := range AllSizes {
		if candidate == size {
			return size, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSize, s)
}

// SizeQuantities maps each size to its stock count. Stored as jsonb.
type SizeQuantities map[Size]int

// Total sums every size.
func (q SizeQuantities) Total() int {
	total := 0
	for _, n := range q {
		total += n
	}
	return total
}

func (q SizeQuantities) Value() (driver.Value, error) {
	return json.Marshal(q)
}

func (q *SizeQuantities) Scan(src interface{}) error {
	return scanJSON(src, q)
}

// SizeList is a set of sizes stored as a jsonb array.
type SizeList []Size

func (l SizeList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *SizeList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Contains reports whether size is in the list.
func (l SizeList) Contains(size Size) bool {
	for _, s := range l {
		if s == size {
			return true
		}
	}
	return false
}

// InventoryAction labels a history entry.
type InventoryAction string

const (
	ActionIncrease    InventoryAction = "increase"
	ActionDecrease    InventoryAction = "decrease"
	ActionDiscrepancy InventoryAction = "discrepancy"
)

// HistoryEntry is one append-only audit record of a stock mutation.
type HistoryEntry struct {
	ID          string          `db:"id" json:"id"`
	ProductID   string          `db:"product_id" json:"productId"`
	Action      InventoryAction `db:"action" json:"action"`
	Size        Size            `db:"size" json:"size,omitempty"`
	Delta       int             `db:"delta" json:"delta"`
	PreviousQty int             `db:"previous_qty" json:"previousQty"`
	NewQty      int             `db:"new_qty" json:"newQty"`
	Actor       string          `db:"actor" json:"actor"`
	Reason      string          `db:"reason" json:"reason"`
	Timestamp   time.Time       `db:"created_at" json:"timestamp"`
}

// ProductInventory is the per-product stock document.
type ProductInventory struct {
	ProductID         string          `db:"id" json:"productId"`
	Name              string          `db:"name" json:"name"`
	Price             decimal.Decimal `db:"price" json:"price"`
	Sizes             SizeQuantities  `db:"sizes" json:"sizes"`
	TotalQuantity     int             `db:"total_quantity" json:"totalQuantity"`
	LowStockThreshold int             `db:"low_stock_threshold" json:"lowStockThreshold"`
	TrackInventory    bool            `db:"track_inventory" json:"trackInventory"`
	SoldOut           bool            `db:"sold_out" json:"soldOut"`
	SoldOutSizes      SizeList        `db:"sold_out_sizes" json:"soldOutSizes"`
	Version           int64           `db:"version" json:"version"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// Quantity returns the stock for one size.
func (p *ProductInventory) Quantity(size Size) int {
	return p.Sizes[size]
}

// Clone returns a deep copy, safe to mutate without touching the original.
func (p *ProductInventory) Clone() *ProductInventory {
	c := *p
	c.Sizes = make(SizeQuantities, len(p.Sizes))
	for k, v := range p.Sizes {
		c.Sizes[k] = v
	}
	c.SoldOutSizes = append(SizeList(nil), p.SoldOutSizes...)
	return &c
}

// Normalize fills missing sizes with zero and re-derives totals and flags.
func (p *ProductInventory) Normalize() {
	if p.Sizes == nil {
		p.Sizes = make(SizeQuantities, len(AllSizes))
	}
	for _, size := range AllSizes {
		if _, ok := p.Sizes[size]; !ok {
			p.Sizes[size] = 0
		}
	}
	p.TotalQuantity = p.Sizes.Total()
	p.RecomputeFlags()
}

// RecomputeFlags derives the sold-out flags from the current sizes.
func (p *ProductInventory) RecomputeFlags() {
	p.SoldOutSizes = SizeList{}
	if !p.TrackInventory {
		p.SoldOut = false
		return
	}
	for _, size := range AllSizes {
		if p.Sizes[size] <= 0 {
			p.SoldOutSizes = append(p.SoldOutSizes, size)
		}
	}
	p.SoldOut = len(p.SoldOutSizes) == len(AllSizes)
}

// Available reports whether quantity units of size can be sold.
func (p *ProductInventory) Available(size Size, quantity int) bool {
	if !p.TrackInventory {
		return true
	}
	if p.SoldOut {
		return false
	}
	return p.Sizes[size] >= quantity
}

// ApplyDelta mutates one size by a signed delta and keeps totals and flags consistent.
// A decrement that would go negative on a tracked product fails with ErrInsufficientStock.
// Untracked products clamp at zero.
func (p *ProductInventory) ApplyDelta(size Size, delta int) (prev, next int, err error) {
	if _, err := ParseSize(string(size)); err != nil {
		return 0, 0, err
	}
	if p.Sizes == nil {
		p.Sizes = make(SizeQuantities)
	}
	prev = p.Sizes[size]
	next = prev + delta
	if next < 0 {
		if p.TrackInventory {
			return prev, prev, fmt.Errorf("%w: %s/%s has %d, requested %d", ErrInsufficientStock, p.ProductID, size, prev, -delta)
		}
		next = 0
	}
	p.Sizes[size] = next
	p.TotalQuantity = p.Sizes.Total()
	p.RecomputeFlags()
	return prev, next, nil
}

// LowStockSizes lists in-stock sizes that have fallen below the threshold.
func (p *ProductInventory) LowStockSizes() []Size {
	low := []Size{}
	if !p.TrackInventory || p.LowStockThreshold <= 0 {
		return low
	}
	for _, size := range AllSizes {
		if n := p.Sizes[size]; n > 0 && n < p.LowStockThreshold {
			low = append(low, size)
		}
	}
	return low
}

// InventorySnapshot is the read model returned by the inventory endpoints.
type InventorySnapshot struct {
	*ProductInventory
	LowStockSizes []Size `json:"lowStockSizes"`
}

// Snapshot builds the read model.
func (p *ProductInventory) Snapshot() InventorySnapshot {
	return InventorySnapshot{ProductInventory: p, LowStockSizes: p.LowStockSizes()}
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported scan type %T", src)
	}
}
