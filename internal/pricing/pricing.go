// Package pricing turns requested quantities into priced, named order lines.
// It only reads: nothing here reserves stock.
package pricing

import (
	"context"
	"fmt"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/models"
)

type Catalog interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, items []models.ItemRequest) ([]models.ReservationResult, error)
}

type Service struct {
	catalog Catalog
	stock   AvailabilityChecker
}

func NewService(catalog Catalog, stock AvailabilityChecker) *Service {
	return &Service{catalog: catalog, stock: stock}
}

// ValidateAndPriceItems checks every requested line against the live catalog
// and the ledger's availability view and returns line items with price and
// name snapshots. Any failing line fails the whole request.
func (s *Service) ValidateAndPriceItems(ctx context.Context, items []models.ItemRequest) ([]models.OrderLineItem, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("items", "order has no items")
	}

	// Lines keep the order the customer listed them in.
	lines, err := models.MergeItems(items)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, collaboratorErr("catalog", err)
	}

	byID := make(map[int64]models.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	for _, line := range lines {
		product, ok := byID[line.ProductID]
		if !ok {
			return nil, apperr.NotFound("product", line.ProductID)
		}
		if !product.IsActive {
			return nil, apperr.BusinessRule("product_inactive",
				fmt.Sprintf("product %d is not for sale", product.ID))
		}
	}

	availability, err := s.stock.CheckAvailability(ctx, lines)
	if err != nil {
		return nil, collaboratorErr("inventory", err)
	}

	free := make(map[int64]models.ReservationResult, len(availability))
	for _, result := range availability {
		free[result.ProductID] = result
	}

	priced := make([]models.OrderLineItem, 0, len(lines))
	for _, line := range lines {
		result, ok := free[line.ProductID]
		if !ok || !result.Satisfied {
			return nil, &apperr.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: result.FreeStock,
			}
		}
		priced = append(priced, models.NewOrderLineItem(byID[line.ProductID], line.Quantity))
	}

	return priced, nil
}

// collaboratorErr keeps domain errors as they are and classifies everything
// else, including timeouts, as the collaborator being unavailable.
func collaboratorErr(name string, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	return apperr.Collaborator(name, err)
}
