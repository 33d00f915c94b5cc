// Package handler содержит HTTP-обработчики API сервиса доставки воды.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mmeshcher/water-delivery-system/internal/apperr"
	"github.com/mmeshcher/water-delivery-system/internal/metrics"
	"github.com/mmeshcher/water-delivery-system/internal/middleware"
	"github.com/mmeshcher/water-delivery-system/internal/model"
	"github.com/mmeshcher/water-delivery-system/internal/service"
	"github.com/mmeshcher/water-delivery-system/internal/token"
)

const dateLayout = "2006-01-02"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, initData string) (string, error)
	EscalateRole(ctx context.Context, p model.Principal, secret string, target model.Role) (string, error)
	CreateAddress(ctx context.Context, p model.Principal, in service.AddressInput) (*model.Address, error)
	ListAddresses(ctx context.Context, p model.Principal) ([]model.Address, error)
	CreateOrder(ctx context.Context, p model.Principal, in service.OrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error)
	ListOrders(ctx context.Context, p model.Principal, region *model.Region) ([]model.Order, error)
	ListMyOrders(ctx context.Context, p model.Principal) ([]model.Order, error)
	TakeOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error)
	SetOrderStatus(ctx context.Context, p model.Principal, orderID int64, status model.OrderStatus) (*model.Order, error)
	ListCities(ctx context.Context, p model.Principal, region model.Region) ([]string, error)
}

// Handler реализует HTTP-обработчики API сервиса доставки воды.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
	registry       *prometheus.Registry
	allowedOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics, registry *prometheus.Registry, allowedOrigins []string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
		registry:       registry,
		allowedOrigins: allowedOrigins,
	}
}

// writeError переводит ошибку бизнес-логики в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrAuthentication):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, apperr.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func principal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return p, ok
}

type loginRequest struct {
	InitData string `json:"init_data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login обменивает данные запуска мини-приложения на токен доступа.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.InitData == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	accessToken, err := h.service.Login(r.Context(), req.InitData)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.metrics.TokensIssued.Inc()
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: accessToken, TokenType: token.TypeBearer})
}

type escalateRequest struct {
	Secret string `json:"secret"`
	Role   string `json:"role"`
}

// EscalateRole повышает роль текущего пользователя по бутстрап-секрету.
func (h *Handler) EscalateRole(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req escalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	accessToken, err := h.service.EscalateRole(r.Context(), p, req.Secret, model.Role(req.Role))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.metrics.TokensIssued.Inc()
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: accessToken, TokenType: token.TypeBearer})
}

type addressRequest struct {
	Region    string  `json:"region"`
	City      string  `json:"city"`
	Street    string  `json:"street"`
	House     string  `json:"house"`
	Entrance  *string `json:"entrance,omitempty"`
	Apartment *string `json:"apartment,omitempty"`
	Floor     *string `json:"floor,omitempty"`
}

type addressResponse struct {
	ID        int64   `json:"id"`
	Region    string  `json:"region"`
	City      string  `json:"city"`
	Street    string  `json:"street"`
	House     string  `json:"house"`
	Entrance  *string `json:"entrance,omitempty"`
	Apartment *string `json:"apartment,omitempty"`
	Floor     *string `json:"floor,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func toAddressResponse(a *model.Address) addressResponse {
	return addressResponse{
		ID:        a.ID,
		Region:    string(a.Region),
		City:      a.City,
		Street:    a.Street,
		House:     a.House,
		Entrance:  a.Entrance,
		Apartment: a.Apartment,
		Floor:     a.Floor,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

// CreateAddress создаёт адрес доставки текущего пользователя либо возвращает
// существующий с тем же набором полей.
func (h *Handler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req addressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	addr, err := h.service.CreateAddress(r.Context(), p, service.AddressInput{
		Region:    model.Region(req.Region),
		City:      req.City,
		Street:    req.Street,
		House:     req.House,
		Entrance:  req.Entrance,
		Apartment: req.Apartment,
		Floor:     req.Floor,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAddressResponse(addr))
}

// ListAddresses возвращает адреса текущего пользователя, новые первыми.
func (h *Handler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	addresses, err := h.service.ListAddresses(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(addresses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]addressResponse, 0, len(addresses))
	for i := range addresses {
		resp = append(resp, toAddressResponse(&addresses[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type createOrderRequest struct {
	Bottles         int     `json:"bottles"`
	ExchangeBottles int     `json:"exchange_bottles"`
	DeliveryDate    string  `json:"delivery_date"`
	DeliverySlot    string  `json:"delivery_slot"`
	Region          string  `json:"region"`
	City            string  `json:"city"`
	Street          string  `json:"street"`
	House           string  `json:"house"`
	Entrance        *string `json:"entrance,omitempty"`
	Apartment       *string `json:"apartment,omitempty"`
	Floor           *string `json:"floor,omitempty"`
	Phone           string  `json:"phone"`
	Comment         *string `json:"comment,omitempty"`
}

type orderShortResponse struct {
	ID          int64  `json:"id"`
	TotalAmount int64  `json:"total_amount"`
	Status      string `json:"status"`
}

type orderResponse struct {
	ID              int64   `json:"id"`
	AddressID       int64   `json:"address_id"`
	Bottles         int     `json:"bottles"`
	ExchangeBottles int     `json:"exchange_bottles"`
	TotalAmount     int64   `json:"total_amount"`
	DeliveryDate    string  `json:"delivery_date"`
	DeliverySlot    string  `json:"delivery_slot"`
	Status          string  `json:"status"`
	CourierID       *int64  `json:"courier_id,omitempty"`
	Comment         *string `json:"comment,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		AddressID:       o.AddressID,
		Bottles:         o.Bottles,
		ExchangeBottles: o.ExchangeBottles,
		TotalAmount:     o.TotalAmount,
		DeliveryDate:    o.DeliveryDate.Format(dateLayout),
		DeliverySlot:    string(o.DeliverySlot),
		Status:          string(o.Status),
		CourierID:       o.CourierID,
		Comment:         o.Comment,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}

// CreateOrder создаёт заказ текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	deliveryDate, err := time.Parse(dateLayout, req.DeliveryDate)
	if err != nil {
		http.Error(w, "delivery_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), p, service.OrderInput{
		Bottles:         req.Bottles,
		ExchangeBottles: req.ExchangeBottles,
		DeliveryDate:    deliveryDate,
		DeliverySlot:    model.DeliverySlot(req.DeliverySlot),
		Address: service.AddressInput{
			Region:    model.Region(req.Region),
			City:      req.City,
			Street:    req.Street,
			House:     req.House,
			Entrance:  req.Entrance,
			Apartment: req.Apartment,
			Floor:     req.Floor,
		},
		Phone:   req.Phone,
		Comment: req.Comment,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.metrics.OrdersCreated.Inc()
	writeJSON(w, http.StatusCreated, orderShortResponse{
		ID:          order.ID,
		TotalAmount: order.TotalAmount,
		Status:      string(order.Status),
	})
}

// GetOrder возвращает заказ по идентификатору. Клиент получает только свои
// заказы, персонал — любые.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orderID, err := orderIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), p, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// ListOrders возвращает все заказы для персонала с необязательным фильтром
// по зоне доставки.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var region *model.Region
	if v := r.URL.Query().Get("region"); v != "" {
		reg := model.Region(v)
		region = &reg
	}

	orders, err := h.service.ListOrders(r.Context(), p, region)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOrders(w, orders)
}

// ListMyOrders возвращает заказы текущего пользователя.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListMyOrders(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOrders(w, orders)
}

func (h *Handler) writeOrders(w http.ResponseWriter, orders []model.Order) {
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func orderIDFromRequest(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
}

// TakeOrder закрепляет заказ за текущим курьером.
func (h *Handler) TakeOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orderID, err := orderIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.TakeOrder(r.Context(), p, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orderShortResponse{
		ID:          order.ID,
		TotalAmount: order.TotalAmount,
		Status:      string(order.Status),
	})
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetOrderStatus устанавливает статус заказа.
func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orderID, err := orderIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.SetOrderStatus(r.Context(), p, orderID, model.OrderStatus(req.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orderShortResponse{
		ID:          order.ID,
		TotalAmount: order.TotalAmount,
		Status:      string(order.Status),
	})
}

// ListCities возвращает отсортированный список городов с заказами в зоне доставки.
func (h *Handler) ListCities(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	region := model.Region(r.URL.Query().Get("region"))

	cities, err := h.service.ListCities(r.Context(), p, region)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if cities == nil {
		cities = []string{}
	}

	writeJSON(w, http.StatusOK, cities)
}
