// Package api exposes the order core over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/database"
	"github.com/nurulloasawear/megasavdo/internal/models"
	"github.com/nurulloasawear/megasavdo/internal/saga"
	"github.com/nurulloasawear/megasavdo/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, req saga.CreateOrderRequest) (*models.Order, *saga.Execution, error)
}

type OrderService interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID int64) ([]models.OrderSummary, error)
	ListUserOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage[models.OrderSummary], error)
	StatusCounts(ctx context.Context) (map[models.OrderStatus]int64, error)
	UpdateStatus(ctx context.Context, orderID int64, to models.OrderStatus, actor, note string) (*models.StatusHistoryEntry, error)
	RequestRefund(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) (*models.Refund, error)
	GetRefund(ctx context.Context, refundID int64) (*models.Refund, error)
	ApproveRefund(ctx context.Context, refundID int64, actor string) (*models.Refund, error)
	RejectRefund(ctx context.Context, refundID int64) (*models.Refund, error)
	MarkRefundProcessed(ctx context.Context, refundID int64) (*models.Refund, error)
}

type Inventory interface {
	CheckAvailability(ctx context.Context, items []models.ItemRequest) ([]models.ReservationResult, error)
	Reserve(ctx context.Context, items []models.ItemRequest) error
	Release(ctx context.Context, items []models.ItemRequest) error
	Commit(ctx context.Context, items []models.ItemRequest) error
	GetInventory(ctx context.Context, productID int64) (*models.InventoryRecord, error)
	SetOnHand(ctx context.Context, productID int64, quantity int) (*models.InventoryRecord, error)
	Restock(ctx context.Context, productID int64, delta int) (*models.InventoryRecord, error)
	ListLowStock(ctx context.Context, threshold int) ([]models.LowStockItem, error)
}

type Catalog interface {
	CreateProduct(ctx context.Context, sku, name, description string, price decimal.Decimal, initialStock int) (*models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage[models.Product], error)
	SetProductActive(ctx context.Context, id int64, active bool) error
	UpdatePrice(ctx context.Context, id int64, price decimal.Decimal, version int) error
}

type Users interface {
	CreateUser(ctx context.Context, username, name, email, phone, role string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateUser(ctx context.Context, actorRole string, id int64, changes map[string]string) (*models.User, error)
	ListUsers(ctx context.Context, page, pageSize int) (*store.OffsetPage[models.User], error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	saga      OrderCreator
	orders    OrderService
	inventory Inventory
	catalog   Catalog
	users     Users
	databases map[string]Pinger
	logger    *zap.Logger
}

type Deps struct {
	Saga      OrderCreator
	Orders    OrderService
	Inventory Inventory
	Catalog   Catalog
	Users     Users
	Databases map[string]Pinger
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	return &Server{
		saga:      deps.Saga,
		orders:    deps.Orders,
		inventory: deps.Inventory,
		catalog:   deps.Catalog,
		users:     deps.Users,
		databases: deps.Databases,
		logger:    logger.Named("http"),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /orders", s.handleCreateOrder)
	mux.HandleFunc("GET /orders/stats", s.handleOrderStats)
	mux.HandleFunc("GET /orders/{id}", s.handleGetOrder)
	mux.HandleFunc("POST /orders/{id}/status", s.handleUpdateStatus)
	mux.HandleFunc("POST /orders/{id}/refunds", s.handleRequestRefund)
	mux.HandleFunc("GET /users/{id}/orders", s.handleUserOrders)
	mux.HandleFunc("GET /refunds/{id}", s.handleGetRefund)
	mux.HandleFunc("POST /refunds/{id}/approve", s.handleApproveRefund)
	mux.HandleFunc("POST /refunds/{id}/reject", s.handleRejectRefund)
	mux.HandleFunc("POST /refunds/{id}/processed", s.handleRefundProcessed)

	mux.HandleFunc("POST /inventory/check", s.handleCheckAvailability)
	mux.HandleFunc("POST /inventory/reserve", s.handleReserve)
	mux.HandleFunc("POST /inventory/release", s.handleRelease)
	mux.HandleFunc("POST /inventory/commit", s.handleCommit)
	mux.HandleFunc("GET /inventory/low-stock", s.handleLowStock)
	mux.HandleFunc("GET /inventory/{productId}", s.handleGetInventory)
	mux.HandleFunc("PUT /inventory/{productId}", s.handleSetOnHand)
	mux.HandleFunc("POST /inventory/{productId}/restock", s.handleRestock)

	mux.HandleFunc("POST /products", s.handleCreateProduct)
	mux.HandleFunc("GET /products", s.handleListProducts)
	mux.HandleFunc("GET /products/{id}", s.handleGetProduct)
	mux.HandleFunc("PUT /products/{id}/price", s.handleUpdatePrice)
	mux.HandleFunc("PUT /products/{id}/active", s.handleSetProductActive)

	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("GET /users", s.handleListUsers)
	mux.HandleFunc("GET /users/{id}", s.handleGetUser)
	mux.HandleFunc("PATCH /users/{id}", s.handleUpdateUser)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.databases))
	for name, db := range s.databases {
		if err := db.PingContext(ctx); err != nil {
			s.logger.Warn("Health check failed", zap.String("database", name), zap.Error(err))
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	respondJSON(w, status, map[string]any{"status": http.StatusText(status), "databases": checks})
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	if errors.Is(err, database.ErrOptimisticLockFailed) {
		return http.StatusConflict
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindBusinessRule:
		var invalid *apperr.InvalidTransitionError
		var stock *apperr.InsufficientStockError
		if errors.As(err, &invalid) || errors.As(err, &stock) {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	case apperr.KindCollaboratorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("body", err.Error())
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(name, "must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def, lo, hi int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < lo || v > hi {
		return def
	}
	return v
}

// actor identifies who made a change, as recorded in status history.
func actor(r *http.Request) string {
	return r.Header.Get("X-Actor")
}
