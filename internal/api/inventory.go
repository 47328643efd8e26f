package api

import (
	"context"
	"net/http"

	"github.com/nurulloasawear/megasavdo/internal/models"
	"github.com/shopspring/decimal"
)

type itemsRequest struct {
	Items []models.ItemRequest `json:"items"`
}

func (s *Server) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req itemsRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	results, err := s.inventory.CheckAvailability(r.Context(), req.Items)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	s.applyItems(w, r, s.inventory.Reserve)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.applyItems(w, r, s.inventory.Release)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	s.applyItems(w, r, s.inventory.Commit)
}

func (s *Server) applyItems(w http.ResponseWriter, r *http.Request, op func(context.Context, []models.ItemRequest) error) {
	var req itemsRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := op(r.Context(), req.Items); err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productId")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rec, err := s.inventory.GetInventory(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSetOnHand(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productId")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req struct {
		OnHandQuantity int `json:"on_hand_quantity"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	rec, err := s.inventory.SetOnHand(r.Context(), id, req.OnHandQuantity)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRestock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productId")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req struct {
		Delta int `json:"delta"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	rec, err := s.inventory.Restock(r.Context(), id, req.Delta)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := queryInt(r, "threshold", 5, 0, 1<<30)

	items, err := s.inventory.ListLowStock(r.Context(), threshold)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SKU         string          `json:"sku"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
		Stock       int             `json:"stock"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	product, err := s.catalog.CreateProduct(r.Context(), req.SKU, req.Name, req.Description, req.Price, req.Stock)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1, 1, 1<<30)
	pageSize := queryInt(r, "page_size", 20, 1, 100)

	result, err := s.catalog.ListProducts(r.Context(), page, pageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	product, err := s.catalog.GetProduct(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, product)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req struct {
		Price   decimal.Decimal `json:"price"`
		Version int             `json:"version"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.catalog.UpdatePrice(r.Context(), id, req.Price, req.Version); err != nil {
		s.fail(w, r, err)
		return
	}

	s.respondProduct(w, r, id)
}

func (s *Server) handleSetProductActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.catalog.SetProductActive(r.Context(), id, req.IsActive); err != nil {
		s.fail(w, r, err)
		return
	}

	s.respondProduct(w, r, id)
}

func (s *Server) respondProduct(w http.ResponseWriter, r *http.Request, id int64) {
	product, err := s.catalog.GetProduct(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}
