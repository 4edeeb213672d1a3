package server

import (
	"bytes"
	"net/http"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"bookstore/pkg/domain"
	"bookstore/pkg/report"
	"bookstore/pkg/store"
	"bookstore/services/api/internal/app"
)

type statusRequest struct {
	Status string `json:"status"`
}

// orderView adds the computed total to an order.
type orderView struct {
	domain.Order
	Total decimal.Decimal `json:"total"`
}

func viewOrder(o domain.Order) orderView {
	return orderView{Order: o, Total: app.OrderTotal(o)}
}

func orderPage(p store.PageResult[domain.Order]) paged {
	out := pageOf(p)
	out.Data = lo.Map(p.Items, func(o domain.Order, _ int) orderView { return viewOrder(o) })
	return out
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.OrderInput
	if !decodeJSON(w, r, &req, false) {
		return
	}
	order, err := s.app.PlaceOrder(r.Context(), user.ID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, viewOrder(order))
}

func (s *Server) handleMyOrders(w http.ResponseWriter, r *http.Request, user domain.User) {
	page, size := pageParams(r)
	orders, err := s.app.ListOrdersByUser(r.Context(), user.ID, page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, orderPage(orders))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, user domain.User) {
	order, err := s.app.GetOrder(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, viewOrder(order))
}

func (s *Server) handleAdminOrders(w http.ResponseWriter, r *http.Request, _ domain.User) {
	page, size := pageParams(r)
	orders, err := s.app.ListOrders(r.Context(), app.OrderQuery{
		Keyword:  keyword(r),
		Status:   r.URL.Query().Get("status"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, orderPage(orders))
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req statusRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	order, err := s.app.UpdateOrderStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.audit(r, "api.order.status", "success", "user_id", admin.ID, "order_id", order.ID, "status", string(order.Status))
	writeData(w, http.StatusOK, viewOrder(order))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, _ domain.User) {
	dashboard, err := s.app.Dashboard(r.Context(), queryInt(r, "limit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, dashboard)
}

// handleExportBooks renders the workbook fully before writing headers so a
// failure still gets a JSON error.
func (s *Server) handleExportBooks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var buf bytes.Buffer
	if err := s.app.ExportBookSales(r.Context(), &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="book-sales.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
