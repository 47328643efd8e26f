package saga

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/events"
	"github.com/nurulloasawear/megasavdo/internal/models"
	"github.com/nurulloasawear/megasavdo/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memLedger applies every batch under one lock, which is what the
// conditional UPDATE gives the SQL ledger per row.
type memLedger struct {
	mu         sync.Mutex
	onHand     map[int64]int
	reserved   map[int64]int
	releaseErr error
	reserveN   atomic.Int32
	releaseN   atomic.Int32
}

func newMemLedger() *memLedger {
	return &memLedger{onHand: map[int64]int{}, reserved: map[int64]int{}}
}

func (l *memLedger) stock(productID int64, onHand, reserved int) {
	l.onHand[productID] = onHand
	l.reserved[productID] = reserved
}

func (l *memLedger) reservedOf(productID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved[productID]
}

func (l *memLedger) CheckAvailability(_ context.Context, items []models.ItemRequest) ([]models.ReservationResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ReservationResult, 0, len(items))
	for _, item := range items {
		free := l.onHand[item.ProductID] - l.reserved[item.ProductID]
		out = append(out, models.ReservationResult{
			ProductID:         item.ProductID,
			FreeStock:         free,
			RequestedQuantity: item.Quantity,
			Satisfied:         free >= item.Quantity,
		})
	}
	return out, nil
}

func (l *memLedger) Reserve(_ context.Context, items []models.ItemRequest) error {
	l.reserveN.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, item := range items {
		free := l.onHand[item.ProductID] - l.reserved[item.ProductID]
		if free < item.Quantity {
			return &apperr.InsufficientStockError{ProductID: item.ProductID, Requested: item.Quantity, Available: free}
		}
	}
	for _, item := range items {
		l.reserved[item.ProductID] += item.Quantity
	}
	return nil
}

func (l *memLedger) Release(ctx context.Context, items []models.ItemRequest) error {
	l.releaseN.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.releaseErr != nil {
		return l.releaseErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, item := range items {
		l.reserved[item.ProductID] = max(l.reserved[item.ProductID]-item.Quantity, 0)
	}
	return nil
}

type memCatalog struct {
	products map[int64]models.Product
}

func (c *memCatalog) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type memUsers struct {
	users map[int64]models.User
	err   error
}

func (u *memUsers) GetUser(_ context.Context, id int64) (*models.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	user, ok := u.users[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	return &user, nil
}

type memOrders struct {
	mu     sync.Mutex
	orders []*models.Order
	err    error
}

func (m *memOrders) CreateOrder(_ context.Context, req models.NewOrder) (*models.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order := &models.Order{
		ID:              int64(len(m.orders) + 1),
		UserID:          req.UserID,
		Status:          models.OrderStatusCreated,
		TotalAmount:     models.SumLineTotals(req.Items),
		Currency:        models.DefaultCurrency,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Items:           req.Items,
	}
	m.orders = append(m.orders, order)
	return order, nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type memStranded struct {
	records []models.StrandedReservation
	err     error
}

func (s *memStranded) Record(_ context.Context, sagaID string, items []models.ItemRequest, reason string) (*models.StrandedReservation, error) {
	if s.err != nil {
		return nil, s.err
	}
	rec := models.StrandedReservation{ID: "stranded-1", SagaID: sagaID, Items: items, Reason: reason, Status: models.StrandedPending}
	s.records = append(s.records, rec)
	return &rec, nil
}

type countingPublisher struct {
	mu    sync.Mutex
	types []events.Type
}

func (p *countingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, e.Type)
	return nil
}

type fixture struct {
	saga     *Orchestrator
	ledger   *memLedger
	orders   *memOrders
	users    *memUsers
	stranded *memStranded
	events   *countingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger := newMemLedger()
	ledger.stock(7, 5, 2)
	ledger.stock(8, 10, 0)
	ledger.stock(9, 10, 0)

	catalog := &memCatalog{products: map[int64]models.Product{
		7: {ID: 7, SKU: "TEA-7", Name: "Ko'k choy", Price: decimal.RequireFromString("12500.50"), IsActive: true},
		8: {ID: 8, SKU: "BRD-8", Name: "Non", Price: decimal.NewFromInt(4000), IsActive: true},
		9: {ID: 9, SKU: "OLD-9", Name: "Retired", Price: decimal.NewFromInt(1), IsActive: false},
	}}

	f := &fixture{
		ledger:   ledger,
		orders:   &memOrders{},
		users:    &memUsers{users: map[int64]models.User{1: {ID: 1, Username: "aziz"}}},
		stranded: &memStranded{},
		events:   &countingPublisher{},
	}
	opts := Options{CollaboratorTimeout: time.Second, CompensationTimeout: time.Second}
	f.saga = NewOrchestrator(f.users, pricing.NewService(catalog, ledger), ledger, f.orders, f.stranded, f.events, zap.NewNop(), opts)
	return f
}

func request(items ...models.ItemRequest) CreateOrderRequest {
	return CreateOrderRequest{
		UserID:          1,
		Items:           items,
		ShippingAddress: "Toshkent, Chilonzor 5",
		PaymentMethod:   "click",
	}
}

func TestCreateOrderReservesFreeStock(t *testing.T) {
	f := newFixture(t)

	order, exec, err := f.saga.CreateOrder(context.Background(), request(models.ItemRequest{ProductID: 7, Quantity: 3}))
	require.NoError(t, err)

	assert.Equal(t, 5, f.ledger.reservedOf(7))
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, order.ID, exec.OrderID)
	assert.Equal(t, []string{stepValidateRequest, stepResolveUser, stepPriceItems, stepReserveStock, stepPersistOrder}, exec.StepNames())
	assert.True(t, decimal.RequireFromString("37501.50").Equal(order.TotalAmount))
	assert.Equal(t, []events.Type{events.OrderCreated}, f.events.types)

	_, _, err = f.saga.CreateOrder(context.Background(), request(models.ItemRequest{ProductID: 7, Quantity: 3}))
	var insufficient *apperr.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(7), insufficient.ProductID)
	assert.Equal(t, 0, insufficient.Available)
	assert.Equal(t, 5, f.ledger.reservedOf(7))
}

func TestCreateOrderPassesAddressesThrough(t *testing.T) {
	f := newFixture(t)

	req := request(models.ItemRequest{ProductID: 7, Quantity: 1})
	req.ShippingAddress = "  Toshkent, Chilonzor 5 "
	req.BillingAddress = " Toshkent, Mirobod 3  "

	order, _, err := f.saga.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Toshkent, Chilonzor 5", order.ShippingAddress)
	assert.Equal(t, "Toshkent, Mirobod 3", order.BillingAddress)
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)

	const workers = 8
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.saga.CreateOrder(context.Background(), request(models.ItemRequest{ProductID: 7, Quantity: 3}))
			if err == nil {
				succeeded.Add(1)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrBusinessRule)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, 5, f.ledger.reservedOf(7))
	assert.Equal(t, 1, f.orders.count())
}

func TestPersistFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.orders.err = errors.New("orders db unavailable")

	order, exec, err := f.saga.CreateOrder(context.Background(), request(
		models.ItemRequest{ProductID: 7, Quantity: 2},
		models.ItemRequest{ProductID: 8, Quantity: 4},
	))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders db unavailable")
	assert.Nil(t, order)
	assert.Equal(t, 0, f.orders.count())
	assert.Equal(t, 2, f.ledger.reservedOf(7))
	assert.Equal(t, 0, f.ledger.reservedOf(8))
	assert.Equal(t, StatusCompensated, exec.Status)
	assert.Empty(t, exec.Pending())
	assert.Empty(t, f.stranded.records)
	assert.Empty(t, f.events.types)
}

func TestFailedReleaseIsRecordedAsStranded(t *testing.T) {
	f := newFixture(t)
	f.orders.err = errors.New("orders db unavailable")
	f.ledger.releaseErr = errors.New("inventory db unavailable")

	_, exec, err := f.saga.CreateOrder(context.Background(), request(models.ItemRequest{ProductID: 8, Quantity: 4}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders db unavailable")
	assert.Equal(t, StatusStranded, exec.Status)
	require.Len(t, f.stranded.records, 1)
	assert.Equal(t, exec.ID, f.stranded.records[0].SagaID)
	assert.Equal(t, []models.ItemRequest{{ProductID: 8, Quantity: 4}}, f.stranded.records[0].Items)
	assert.Equal(t, "stranded-1", exec.StrandedID)
	assert.Len(t, exec.Pending(), 1)
}

func TestFailedStrandedWriteStillSurfacesPersistError(t *testing.T) {
	f := newFixture(t)
	f.orders.err = errors.New("orders db unavailable")
	f.ledger.releaseErr = errors.New("inventory db unavailable")
	f.stranded.err = errors.New("inventory db unavailable")

	_, exec, err := f.saga.CreateOrder(context.Background(), request(models.ItemRequest{ProductID: 8, Quantity: 1}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders db unavailable")
	assert.Equal(t, StatusStranded, exec.Status)
	assert.Empty(t, exec.StrandedID)
}

func TestUnknownUserHasNoSideEffects(t *testing.T) {
	f := newFixture(t)

	_, exec, err := f.saga.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:          404,
		Items:           []models.ItemRequest{{ProductID: 8, Quantity: 1}},
		ShippingAddress: "Samarqand",
		PaymentMethod:   "cash",
	})

	assert.True(t, apperr.IsNotFound(err, "user"))
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, int32(0), f.ledger.reserveN.Load())
	assert.Equal(t, 0, f.orders.count())
}

func TestIdentityOutageIsCollaboratorError(t *testing.T) {
	f := newFixture(t)
	f.users.err = context.DeadlineExceeded

	_, _, err := f.saga.CreateOrder(context.Background(), request(models.ItemRequest{ProductID: 8, Quantity: 1}))

	assert.ErrorIs(t, err, apperr.ErrCollaboratorUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), f.ledger.reserveN.Load())
}

func TestPricingRejectionsHappenBeforeReserve(t *testing.T) {
	tests := []struct {
		name string
		item models.ItemRequest
		kind error
	}{
		{"zero quantity", models.ItemRequest{ProductID: 8, Quantity: 0}, apperr.ErrValidation},
		{"unknown product", models.ItemRequest{ProductID: 99, Quantity: 1}, apperr.ErrNotFound},
		{"inactive product", models.ItemRequest{ProductID: 9, Quantity: 1}, apperr.ErrBusinessRule},
		{"not enough stock", models.ItemRequest{ProductID: 8, Quantity: 11}, apperr.ErrBusinessRule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, _, err := f.saga.CreateOrder(context.Background(), request(tt.item))

			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, int32(0), f.ledger.reserveN.Load())
		})
	}
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)

	noAddress := request(models.ItemRequest{ProductID: 8, Quantity: 1})
	noAddress.ShippingAddress = "   "
	_, _, err := f.saga.CreateOrder(context.Background(), noAddress)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	badPayment := request(models.ItemRequest{ProductID: 8, Quantity: 1})
	badPayment.PaymentMethod = "barter"
	_, _, err = f.saga.CreateOrder(context.Background(), badPayment)
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "payment_method", verr.Field)

	_, _, err = f.saga.CreateOrder(context.Background(), request())
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

// cancellingOrders cancels the caller's context and then fails, like a
// client disconnecting while the order write is in flight.
type cancellingOrders struct {
	cancel context.CancelFunc
	sawErr error
}

func (c *cancellingOrders) CreateOrder(ctx context.Context, _ models.NewOrder) (*models.Order, error) {
	c.cancel()
	c.sawErr = ctx.Err()
	return nil, errors.New("connection reset")
}

func TestCancelledCallerDoesNotAbandonCompensation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orders := &cancellingOrders{cancel: cancel}
	f.saga.orders = orders

	_, exec, err := f.saga.CreateOrder(ctx, request(models.ItemRequest{ProductID: 8, Quantity: 2}))

	require.Error(t, err)
	assert.NoError(t, orders.sawErr)
	assert.Equal(t, int32(1), f.ledger.releaseN.Load())
	assert.Equal(t, 0, f.ledger.reservedOf(8))
	assert.Equal(t, StatusCompensated, exec.Status)
}
