package models

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/shopspring/decimal"
)

type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

type Product struct {
	ID          int64           `json:"id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
}

// InventoryRecord is owned by the inventory ledger. ReservedQuantity never
// exceeds OnHandQuantity.
type InventoryRecord struct {
	ProductID        int64     `json:"product_id"`
	OnHandQuantity   int       `json:"on_hand_quantity"`
	ReservedQuantity int       `json:"reserved_quantity"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int       `json:"version"`
}

func (r InventoryRecord) FreeStock() int {
	return r.OnHandQuantity - r.ReservedQuantity
}

// LowStockItem is a catalog row joined with its inventory counters.
type LowStockItem struct {
	ProductID        int64  `json:"product_id"`
	SKU              string `json:"sku"`
	Name             string `json:"name"`
	OnHandQuantity   int    `json:"on_hand_quantity"`
	ReservedQuantity int    `json:"reserved_quantity"`
	FreeStock        int    `json:"free_stock"`
}

type ItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// MaxItemQuantity is the largest quantity one product may carry in a request,
// bounded by the INTEGER counters of the inventory table.
const MaxItemQuantity = math.MaxInt32

// MergeItems merges duplicate product ids by summing their quantities and
// keeps the order in which each product first appears. Every quantity must be
// positive and every merged total must fit MaxItemQuantity.
func MergeItems(items []ItemRequest) ([]ItemRequest, error) {
	index := make(map[int64]int, len(items))
	out := make([]ItemRequest, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, apperr.Validation("quantity",
				fmt.Sprintf("product %d: quantity must be positive, got %d", item.ProductID, item.Quantity))
		}

		i, seen := index[item.ProductID]
		if !seen {
			index[item.ProductID] = len(out)
			out = append(out, ItemRequest{ProductID: item.ProductID})
			i = len(out) - 1
		}
		if item.Quantity > MaxItemQuantity-out[i].Quantity {
			return nil, apperr.Validation("quantity",
				fmt.Sprintf("product %d: total quantity exceeds %d", item.ProductID, MaxItemQuantity))
		}
		out[i].Quantity += item.Quantity
	}
	return out, nil
}

// NormalizeItems merges like MergeItems and orders the result by product id,
// so batched row updates always lock in the same order.
func NormalizeItems(items []ItemRequest) ([]ItemRequest, error) {
	out, err := MergeItems(items)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ReservationResult is the per-line answer of an availability check. It is
// never persisted.
type ReservationResult struct {
	ProductID         int64  `json:"product_id"`
	FreeStock         int    `json:"free_stock"`
	RequestedQuantity int    `json:"requested_quantity"`
	Satisfied         bool   `json:"satisfied"`
	Message           string `json:"message"`
}

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

var OrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

func (s OrderStatus) Valid() bool {
	for _, status := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

const DefaultCurrency = "UZS"

// PaymentMethods are the payment options the payment collaborator accepts.
var PaymentMethods = []string{"card", "cash", "click", "payme"}

func ValidPaymentMethod(method string) bool {
	for _, m := range PaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

// OrderLineItem snapshots catalog data at creation time; later price or name
// changes never touch it.
type OrderLineItem struct {
	ID                  int64           `json:"id,omitempty"`
	OrderID             int64           `json:"order_id,omitempty"`
	ProductID           int64           `json:"product_id"`
	ProductNameSnapshot string          `json:"product_name"`
	SKUSnapshot         string          `json:"sku"`
	Quantity            int             `json:"quantity"`
	UnitPriceSnapshot   decimal.Decimal `json:"unit_price"`
	LineTotal           decimal.Decimal `json:"line_total"`
}

func NewOrderLineItem(product Product, quantity int) OrderLineItem {
	return OrderLineItem{
		ProductID:           product.ID,
		ProductNameSnapshot: product.Name,
		SKUSnapshot:         product.SKU,
		Quantity:            quantity,
		UnitPriceSnapshot:   product.Price,
		LineTotal:           product.Price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

func SumLineTotals(items []OrderLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}
	return total
}

// ItemRequests converts line items back into ledger quantities.
func ItemRequests(items []OrderLineItem) []ItemRequest {
	out := make([]ItemRequest, 0, len(items))
	for _, item := range items {
		out = append(out, ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

type StatusHistoryEntry struct {
	ID        int64       `json:"id"`
	OrderID   int64       `json:"order_id"`
	Status    OrderStatus `json:"status"`
	Actor     string      `json:"actor"`
	Note      string      `json:"note,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type Order struct {
	ID              int64                `json:"id"`
	OrderNumber     string               `json:"order_number"`
	UserID          int64                `json:"user_id"`
	Status          OrderStatus          `json:"status"`
	TotalAmount     decimal.Decimal      `json:"total_amount"`
	Currency        string               `json:"currency"`
	PaymentMethod   string               `json:"payment_method"`
	ShippingAddress string               `json:"shipping_address"`
	BillingAddress  string               `json:"billing_address,omitempty"`
	Notes           string               `json:"notes,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	Version         int                  `json:"version"`
	Items           []OrderLineItem      `json:"items,omitempty"`
	History         []StatusHistoryEntry `json:"status_history,omitempty"`
	Refunds         []Refund             `json:"refunds,omitempty"`
}

type OrderSummary struct {
	ID          int64           `json:"id"`
	OrderNumber string          `json:"order_number"`
	Status      OrderStatus     `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewOrder is the aggregate handed to the order store by the saga.
type NewOrder struct {
	UserID          int64
	PaymentMethod   string
	ShippingAddress string
	BillingAddress  string
	Notes           string
	Items           []OrderLineItem
	Actor           string
}

type RefundStatus string

const (
	RefundStatusRequested RefundStatus = "requested"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusProcessed RefundStatus = "processed"
)

type Refund struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	Status      RefundStatus    `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

type StrandedReservationStatus string

const (
	StrandedPending  StrandedReservationStatus = "pending"
	StrandedResolved StrandedReservationStatus = "resolved"
)

// StrandedReservation is a reservation whose compensating release failed and
// which still holds stock.
type StrandedReservation struct {
	ID         string                    `json:"id"`
	SagaID     string                    `json:"saga_id"`
	Items      []ItemRequest             `json:"items"`
	Reason     string                    `json:"reason"`
	Attempts   int                       `json:"attempts"`
	Status     StrandedReservationStatus `json:"status"`
	CreatedAt  time.Time                 `json:"created_at"`
	ResolvedAt *time.Time                `json:"resolved_at,omitempty"`
}
