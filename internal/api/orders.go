package api

import (
	"net/http"

	"github.com/nurulloasawear/megasavdo/internal/models"
	"github.com/nurulloasawear/megasavdo/internal/orders"
	"github.com/nurulloasawear/megasavdo/internal/saga"
	"github.com/shopspring/decimal"
)

// orderResponse adds the statuses an order may move to next.
type orderResponse struct {
	*models.Order
	NextStatuses []models.OrderStatus `json:"next_statuses"`
}

type createOrderResponse struct {
	Order  *models.Order `json:"order"`
	SagaID string        `json:"saga_id"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req saga.CreateOrderRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	order, exec, err := s.saga.CreateOrder(r.Context(), req)
	if err != nil {
		if exec != nil {
			w.Header().Set("X-Saga-ID", exec.ID)
		}
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, createOrderResponse{Order: order, SagaID: exec.ID})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, orderResponse{Order: order, NextStatuses: orders.NextStatuses(order.Status)})
}

func (s *Server) handleOrderStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.orders.StatusCounts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, counts)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req struct {
		Status models.OrderStatus `json:"status"`
		Note   string             `json:"note"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	entry, err := s.orders.UpdateStatus(r.Context(), id, req.Status, actor(r), req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRequestRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	refund, err := s.orders.RequestRefund(r.Context(), id, req.Amount, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, refund)
}

func (s *Server) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Without cursor or limit the full history is returned, newest first.
	q := r.URL.Query()
	if !q.Has("cursor") && !q.Has("limit") {
		summaries, err := s.orders.GetUserOrders(r.Context(), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, summaries)
		return
	}

	limit := queryInt(r, "limit", 20, 1, 100)
	page, err := s.orders.ListUserOrders(r.Context(), userID, q.Get("cursor"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	refund, err := s.orders.GetRefund(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, refund)
}

func (s *Server) handleApproveRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	refund, err := s.orders.ApproveRefund(r.Context(), id, actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, refund)
}

func (s *Server) handleRejectRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	refund, err := s.orders.RejectRefund(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, refund)
}

func (s *Server) handleRefundProcessed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	refund, err := s.orders.MarkRefundProcessed(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, refund)
}
