// Package handler содержит HTTP-обработчики API сервиса аренды жилья.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/renthome-system/internal/billing"
	"github.com/mmeshcher/renthome-system/internal/middleware"
	"github.com/mmeshcher/renthome-system/internal/model"
	"github.com/mmeshcher/renthome-system/internal/money"
	"github.com/mmeshcher/renthome-system/internal/repository"
	"github.com/mmeshcher/renthome-system/internal/service"
)

const dateLayout = "2006-01-02"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, phone, password, name string) (int64, error)
	AuthenticateUser(ctx context.Context, phone, password string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	SaveRefreshToken(ctx context.Context, userID int64, token string, expires time.Time) error
	ValidateRefreshToken(ctx context.Context, userID int64, token string) (*model.User, error)

	CreateHouse(ctx context.Context, h *model.House) (int64, error)
	GetHouse(ctx context.Context, id int64) (*model.House, error)
	ListHouses(ctx context.Context) ([]model.House, error)
	UpdateHouse(ctx context.Context, h *model.House) error
	DeleteHouse(ctx context.Context, id int64) error

	CreateTenant(ctx context.Context, t *model.Tenant) (int64, error)
	GetTenant(ctx context.Context, id int64) (*model.Tenant, error)
	GetTenantByPhone(ctx context.Context, phone string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	UpdateTenant(ctx context.Context, t *model.Tenant) error
	DeleteTenant(ctx context.Context, id int64) error

	RecordPayment(ctx context.Context, houseID int64, in billing.PaymentInput) (*model.Payment, error)
	GetPayment(ctx context.Context, id int64) (*model.Payment, error)
	ListPaymentsByHouse(ctx context.Context, houseID int64, tenantID *int64) ([]model.Payment, error)
	ListPaymentsByTenant(ctx context.Context, tenantID int64) ([]model.Payment, error)
	GetHouseBalance(ctx context.Context, houseID int64) (decimal.Decimal, error)
	GetHousePaymentStatus(ctx context.Context, houseID int64) (*model.HousePaymentStatus, error)
	UpdatePayment(ctx context.Context, id int64, in service.UpdatePaymentInput) (*model.Payment, error)
	DeletePayment(ctx context.Context, id int64) error

	GetStatistics(ctx context.Context) (*model.Statistics, error)
	GetMonthlyStatistics(ctx context.Context, now time.Time) (*model.MonthlyStatistics, error)
}

// Handler реализует HTTP-обработчики API сервиса аренды жилья.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// handleError сопоставляет доменные ошибки HTTP-статусам.
// Неизвестные ошибки логируются и отдаются как 500.
func (h *Handler) handleError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrHouseNotFound),
		errors.Is(err, repository.ErrTenantNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrHouseNotAvailable),
		errors.Is(err, billing.ErrNoActiveTenant),
		errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrTenantExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrValidation), errors.Is(err, money.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidRefreshToken):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

type userResponse struct {
	ID     int64           `json:"id"`
	Phone  string          `json:"phone"`
	Name   string          `json:"name"`
	Role   string          `json:"role"`
	Tenant *tenantResponse `json:"tenant,omitempty"`
}

type loginResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	User         userResponse `json:"user"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (h *Handler) userWithTenant(ctx context.Context, u *model.User) userResponse {
	resp := userResponse{
		ID:    u.ID,
		Phone: u.Phone,
		Name:  u.Name,
		Role:  string(u.Role),
	}

	// Для жильца подтягивается его карточка по номеру телефона.
	if u.Role == model.UserRoleUser {
		if t, err := h.service.GetTenantByPhone(ctx, u.Phone); err == nil {
			tr := tenantToResponse(t)
			resp.Tenant = &tr
		}
	}

	return resp
}

func (h *Handler) issueTokenPair(ctx context.Context, w http.ResponseWriter, u *model.User) {
	accessToken, err := h.authMiddleware.IssueAccessToken(u)
	if err != nil {
		h.handleError(w, err, "issue access token")
		return
	}

	refreshToken, expires, err := h.authMiddleware.IssueRefreshToken(u)
	if err != nil {
		h.handleError(w, err, "issue refresh token")
		return
	}

	if err := h.service.SaveRefreshToken(ctx, u.ID, refreshToken, expires); err != nil {
		h.handleError(w, err, "save refresh token")
		return
	}

	h.writeJSON(w, http.StatusOK, loginResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         h.userWithTenant(ctx, u),
	})
}

// Login выполняет аутентификацию пользователя и выдаёт пару токенов.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Phone == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Phone, req.Password)
	if err != nil {
		h.handleError(w, err, "login user error")
		return
	}

	h.issueTokenPair(r.Context(), w, u)
}

type registerRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register создаёт учётную запись жильца. Доступно только администратору.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.RegisterUser(r.Context(), req.Phone, req.Password, req.Name)
	if err != nil {
		h.handleError(w, err, "register user error")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh проверяет refresh-токен и выдаёт новую пару токенов.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	claims, err := h.authMiddleware.ParseToken(req.RefreshToken)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.ValidateRefreshToken(r.Context(), userID, req.RefreshToken)
	if err != nil {
		h.handleError(w, err, "refresh token error")
		return
	}

	h.issueTokenPair(r.Context(), w, u)
}

// Me возвращает профиль текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetUserByID(r.Context(), identity.UserID)
	if err != nil {
		h.handleError(w, err, "get current user error")
		return
	}

	h.writeJSON(w, http.StatusOK, h.userWithTenant(r.Context(), u))
}

type houseRequest struct {
	Title                     string  `json:"title"`
	Address                   string  `json:"address"`
	BaseRent                  string  `json:"baseRent"`
	WaterRate                 string  `json:"waterRate"`
	ElectricityRate           string  `json:"electricityRate"`
	InitialWaterReading       *string `json:"initialWaterReading"`
	InitialElectricityReading *string `json:"initialElectricityReading"`
	Area                      *string `json:"area"`
	Status                    *string `json:"status"`
	Description               *string `json:"description"`
}

type houseResponse struct {
	ID                        int64  `json:"id"`
	Title                     string `json:"title"`
	Address                   string `json:"address"`
	BaseRent                  string `json:"baseRent"`
	WaterRate                 string `json:"waterRate"`
	ElectricityRate           string `json:"electricityRate"`
	InitialWaterReading       string `json:"initialWaterReading"`
	InitialElectricityReading string `json:"initialElectricityReading"`
	Area                      string `json:"area"`
	Status                    string `json:"status"`
	Description               string `json:"description,omitempty"`
	CreatedAt                 string `json:"createdAt"`
}

func houseToResponse(hs *model.House) houseResponse {
	return houseResponse{
		ID:                        hs.ID,
		Title:                     hs.Title,
		Address:                   hs.Address,
		BaseRent:                  money.String(hs.BaseRent),
		WaterRate:                 money.String(hs.WaterRate),
		ElectricityRate:           money.String(hs.ElectricityRate),
		InitialWaterReading:       money.String(hs.InitialWaterReading),
		InitialElectricityReading: money.String(hs.InitialElectricityReading),
		Area:                      money.String(hs.Area),
		Status:                    string(hs.Status),
		Description:               hs.Description,
		CreatedAt:                 hs.CreatedAt.Format(time.RFC3339),
	}
}

func parseOptionalAmount(s *string) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, nil
	}
	return money.Parse(*s)
}

// CreateHouse сохраняет новый дом.
func (h *Handler) CreateHouse(w http.ResponseWriter, r *http.Request) {
	var req houseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Title == "" || req.Address == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	house := &model.House{
		Title:   req.Title,
		Address: req.Address,
		Status:  model.HouseStatusAvailable,
	}

	var err error
	if house.BaseRent, err = money.Parse(req.BaseRent); err == nil {
		if house.WaterRate, err = money.Parse(req.WaterRate); err == nil {
			house.ElectricityRate, err = money.Parse(req.ElectricityRate)
		}
	}
	if err != nil {
		h.handleError(w, err, "parse house rates")
		return
	}

	if house.InitialWaterReading, err = parseOptionalAmount(req.InitialWaterReading); err != nil {
		h.handleError(w, err, "parse initial water reading")
		return
	}
	if house.InitialElectricityReading, err = parseOptionalAmount(req.InitialElectricityReading); err != nil {
		h.handleError(w, err, "parse initial electricity reading")
		return
	}
	if house.Area, err = parseOptionalAmount(req.Area); err != nil {
		h.handleError(w, err, "parse area")
		return
	}
	if req.Status != nil {
		house.Status = model.HouseStatus(*req.Status)
	}
	if req.Description != nil {
		house.Description = *req.Description
	}

	id, err := h.service.CreateHouse(r.Context(), house)
	if err != nil {
		h.handleError(w, err, "create house error")
		return
	}

	created, err := h.service.GetHouse(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "get created house error")
		return
	}

	h.writeJSON(w, http.StatusCreated, houseToResponse(created))
}

// ListHouses возвращает все дома.
func (h *Handler) ListHouses(w http.ResponseWriter, r *http.Request) {
	houses, err := h.service.ListHouses(r.Context())
	if err != nil {
		h.handleError(w, err, "list houses error")
		return
	}

	resp := make([]houseResponse, 0, len(houses))
	for i := range houses {
		resp = append(resp, houseToResponse(&houses[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetHouse возвращает дом по идентификатору.
func (h *Handler) GetHouse(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	house, err := h.service.GetHouse(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "get house error")
		return
	}

	h.writeJSON(w, http.StatusOK, houseToResponse(house))
}

type houseUpdateRequest struct {
	Title                     *string `json:"title"`
	Address                   *string `json:"address"`
	BaseRent                  *string `json:"baseRent"`
	WaterRate                 *string `json:"waterRate"`
	ElectricityRate           *string `json:"electricityRate"`
	InitialWaterReading       *string `json:"initialWaterReading"`
	InitialElectricityReading *string `json:"initialElectricityReading"`
	Area                      *string `json:"area"`
	Status                    *string `json:"status"`
	Description               *string `json:"description"`
}

// UpdateHouse частично обновляет атрибуты дома.
func (h *Handler) UpdateHouse(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req houseUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	house, err := h.service.GetHouse(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "get house error")
		return
	}

	if req.Title != nil {
		house.Title = *req.Title
	}
	if req.Address != nil {
		house.Address = *req.Address
	}
	if req.Description != nil {
		house.Description = *req.Description
	}
	if req.Status != nil {
		house.Status = model.HouseStatus(*req.Status)
	}

	for _, f := range []struct {
		src *string
		dst *decimal.Decimal
	}{
		{req.BaseRent, &house.BaseRent},
		{req.WaterRate, &house.WaterRate},
		{req.ElectricityRate, &house.ElectricityRate},
		{req.InitialWaterReading, &house.InitialWaterReading},
		{req.InitialElectricityReading, &house.InitialElectricityReading},
		{req.Area, &house.Area},
	} {
		if f.src == nil {
			continue
		}
		v, err := money.Parse(*f.src)
		if err != nil {
			h.handleError(w, err, "parse house amount")
			return
		}
		*f.dst = v
	}

	if err := h.service.UpdateHouse(r.Context(), house); err != nil {
		h.handleError(w, err, "update house error")
		return
	}

	h.writeJSON(w, http.StatusOK, houseToResponse(house))
}

// DeleteHouse удаляет дом.
func (h *Handler) DeleteHouse(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteHouse(r.Context(), id); err != nil {
		h.handleError(w, err, "delete house error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type tenantRequest struct {
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	Email     *string `json:"email"`
	IDCard    *string `json:"idCard"`
	StartDate string  `json:"startDate"`
	EndDate   *string `json:"endDate"`
	HouseID   *int64  `json:"houseId"`
}

type tenantResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	IDCard    string `json:"idCard,omitempty"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate,omitempty"`
	HouseID   *int64 `json:"houseId,omitempty"`
}

func tenantToResponse(t *model.Tenant) tenantResponse {
	resp := tenantResponse{
		ID:        t.ID,
		Name:      t.Name,
		Phone:     t.Phone,
		Email:     t.Email,
		IDCard:    t.IDCard,
		StartDate: t.StartDate.Format(dateLayout),
		HouseID:   t.HouseID,
	}
	if t.EndDate != nil {
		resp.EndDate = t.EndDate.Format(dateLayout)
	}
	return resp
}

// CreateTenant сохраняет нового жильца; при указанном houseId выполняется заселение.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		http.Error(w, "malformed startDate, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	tenant := &model.Tenant{
		Name:      req.Name,
		Phone:     req.Phone,
		StartDate: startDate,
		HouseID:   req.HouseID,
	}
	if req.Email != nil {
		tenant.Email = *req.Email
	}
	if req.IDCard != nil {
		tenant.IDCard = *req.IDCard
	}
	if req.EndDate != nil {
		endDate, err := time.Parse(dateLayout, *req.EndDate)
		if err != nil {
			http.Error(w, "malformed endDate, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		tenant.EndDate = &endDate
	}

	id, err := h.service.CreateTenant(r.Context(), tenant)
	if err != nil {
		h.handleError(w, err, "create tenant error")
		return
	}

	created, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "get created tenant error")
		return
	}

	h.writeJSON(w, http.StatusCreated, tenantToResponse(created))
}

// ListTenants возвращает всех жильцов.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.service.ListTenants(r.Context())
	if err != nil {
		h.handleError(w, err, "list tenants error")
		return
	}

	resp := make([]tenantResponse, 0, len(tenants))
	for i := range tenants {
		resp = append(resp, tenantToResponse(&tenants[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetTenant возвращает жильца по идентификатору.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tenant, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "get tenant error")
		return
	}

	h.writeJSON(w, http.StatusOK, tenantToResponse(tenant))
}

type tenantUpdateRequest struct {
	Name      *string `json:"name"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
	IDCard    *string `json:"idCard"`
	StartDate *string `json:"startDate"`
	EndDate   *string `json:"endDate"`
	HouseID   *int64  `json:"houseId"`
	// ClearHouse освобождает дом без удаления жильца.
	ClearHouse bool `json:"clearHouse,omitempty"`
}

// UpdateTenant частично обновляет данные жильца, включая переезд между домами.
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req tenantUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tenant, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "get tenant error")
		return
	}

	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Phone != nil {
		tenant.Phone = *req.Phone
	}
	if req.Email != nil {
		tenant.Email = *req.Email
	}
	if req.IDCard != nil {
		tenant.IDCard = *req.IDCard
	}
	if req.StartDate != nil {
		startDate, err := time.Parse(dateLayout, *req.StartDate)
		if err != nil {
			http.Error(w, "malformed startDate, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		tenant.StartDate = startDate
	}
	if req.EndDate != nil {
		endDate, err := time.Parse(dateLayout, *req.EndDate)
		if err != nil {
			http.Error(w, "malformed endDate, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		tenant.EndDate = &endDate
	}
	if req.ClearHouse {
		tenant.HouseID = nil
	} else if req.HouseID != nil {
		tenant.HouseID = req.HouseID
	}

	if err := h.service.UpdateTenant(r.Context(), tenant); err != nil {
		h.handleError(w, err, "update tenant error")
		return
	}

	h.writeJSON(w, http.StatusOK, tenantToResponse(tenant))
}

// DeleteTenant удаляет жильца и освобождает его дом.
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteTenant(r.Context(), id); err != nil {
		h.handleError(w, err, "delete tenant error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type paymentRequest struct {
	HouseID          int64   `json:"houseId"`
	Amount           string  `json:"amount"`
	WaterUsage       string  `json:"waterUsage"`
	ElectricityUsage string  `json:"electricityUsage"`
	Remark           *string `json:"remark"`
	PeriodStart      *string `json:"periodStart"`
	PeriodEnd        *string `json:"periodEnd"`
}

type paymentResponse struct {
	ID                       int64  `json:"id"`
	HouseID                  int64  `json:"houseId"`
	TenantID                 int64  `json:"tenantId"`
	Amount                   string `json:"amount"`
	BaseRent                 string `json:"baseRent"`
	WaterUsage               string `json:"waterUsage"`
	ElectricityUsage         string `json:"electricityUsage"`
	PreviousWaterUsage       string `json:"previousWaterUsage"`
	PreviousElectricityUsage string `json:"previousElectricityUsage"`
	Balance                  string `json:"balance"`
	Remark                   string `json:"remark,omitempty"`
	PeriodStart              string `json:"periodStart,omitempty"`
	PeriodEnd                string `json:"periodEnd,omitempty"`
	CreatedAt                string `json:"createdAt"`
}

func paymentToResponse(p *model.Payment) paymentResponse {
	resp := paymentResponse{
		ID:                       p.ID,
		HouseID:                  p.HouseID,
		TenantID:                 p.TenantID,
		Amount:                   money.String(p.Amount),
		BaseRent:                 money.String(p.BaseRent),
		WaterUsage:               money.String(p.WaterUsage),
		ElectricityUsage:         money.String(p.ElectricityUsage),
		PreviousWaterUsage:       money.String(p.PreviousWaterUsage),
		PreviousElectricityUsage: money.String(p.PreviousElectricityUsage),
		Balance:                  money.String(p.Balance),
		Remark:                   p.Remark,
		CreatedAt:                p.CreatedAt.Format(time.RFC3339),
	}
	if p.PeriodStart != nil {
		resp.PeriodStart = p.PeriodStart.Format(time.RFC3339)
	}
	if p.PeriodEnd != nil {
		resp.PeriodEnd = p.PeriodEnd.Format(time.RFC3339)
	}
	return resp
}

func parsePeriodField(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		// Допускается и короткий формат даты.
		t, err = time.Parse(dateLayout, *s)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// CreatePayment регистрирует событие оплаты по дому.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var in billing.PaymentInput
	var err error
	if in.Amount, err = money.Parse(req.Amount); err == nil {
		if in.WaterUsage, err = money.Parse(req.WaterUsage); err == nil {
			in.ElectricityUsage, err = money.Parse(req.ElectricityUsage)
		}
	}
	if err != nil {
		h.handleError(w, err, "parse payment amounts")
		return
	}

	if req.Remark != nil {
		in.Remark = *req.Remark
	}
	if in.PeriodStart, err = parsePeriodField(req.PeriodStart); err != nil {
		http.Error(w, "malformed periodStart", http.StatusBadRequest)
		return
	}
	if in.PeriodEnd, err = parsePeriodField(req.PeriodEnd); err != nil {
		http.Error(w, "malformed periodEnd", http.StatusBadRequest)
		return
	}

	payment, err := h.service.RecordPayment(r.Context(), req.HouseID, in)
	if err != nil {
		h.handleError(w, err, "create payment error")
		return
	}

	h.writeJSON(w, http.StatusCreated, paymentToResponse(payment))
}

// GetPayment возвращает запись оплаты по идентификатору.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "get payment error")
		return
	}

	h.writeJSON(w, http.StatusOK, paymentToResponse(payment))
}

// GetHousePayments возвращает историю оплат по дому. Пользователь с ролью
// user видит только собственные оплаты.
func (h *Handler) GetHousePayments(w http.ResponseWriter, r *http.Request) {
	houseID, err := idParam(r, "houseID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var tenantID *int64
	if v := r.URL.Query().Get("tenantId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		tenantID = &id
	}

	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if identity.Role == model.UserRoleUser {
		tenant, err := h.service.GetTenantByPhone(r.Context(), identity.Phone)
		if err != nil {
			h.handleError(w, err, "resolve tenant for user")
			return
		}
		tenantID = &tenant.ID
	}

	payments, err := h.service.ListPaymentsByHouse(r.Context(), houseID, tenantID)
	if err != nil {
		h.handleError(w, err, "list house payments error")
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, paymentToResponse(&payments[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetTenantPayments возвращает историю оплат жильца.
func (h *Handler) GetTenantPayments(w http.ResponseWriter, r *http.Request) {
	tenantID, err := idParam(r, "tenantID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payments, err := h.service.ListPaymentsByTenant(r.Context(), tenantID)
	if err != nil {
		h.handleError(w, err, "list tenant payments error")
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, paymentToResponse(&payments[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type balanceResponse struct {
	HouseID int64  `json:"houseId"`
	Balance string `json:"balance"`
}

// GetHouseBalance возвращает накопленный баланс по дому.
func (h *Handler) GetHouseBalance(w http.ResponseWriter, r *http.Request) {
	houseID, err := idParam(r, "houseID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.GetHouseBalance(r.Context(), houseID)
	if err != nil {
		h.handleError(w, err, "get house balance error")
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{
		HouseID: houseID,
		Balance: money.String(balance),
	})
}

type paymentStatusResponse struct {
	Status          string  `json:"status"`
	Amount          string  `json:"amount"`
	LastPaymentDate *string `json:"lastPaymentDate"`
}

// GetHousePaymentStatus возвращает результат сверки оплат по дому.
func (h *Handler) GetHousePaymentStatus(w http.ResponseWriter, r *http.Request) {
	houseID, err := idParam(r, "houseID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	st, err := h.service.GetHousePaymentStatus(r.Context(), houseID)
	if err != nil {
		h.handleError(w, err, "get house payment status error")
		return
	}

	resp := paymentStatusResponse{
		Status: string(st.Status),
		Amount: money.String(st.Amount),
	}
	if st.LastPaymentDate != nil {
		v := st.LastPaymentDate.Format(time.RFC3339)
		resp.LastPaymentDate = &v
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type paymentUpdateRequest struct {
	Amount           *string `json:"amount"`
	WaterUsage       *string `json:"waterUsage"`
	ElectricityUsage *string `json:"electricityUsage"`
	Remark           *string `json:"remark"`
	PeriodStart      *string `json:"periodStart"`
	PeriodEnd        *string `json:"periodEnd"`
}

// UpdatePayment перезаписывает редактируемые поля записи оплаты.
// Балансы зависимых записей при этом не пересчитываются.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req paymentUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var in service.UpdatePaymentInput
	for _, f := range []struct {
		src *string
		dst **decimal.Decimal
	}{
		{req.Amount, &in.Amount},
		{req.WaterUsage, &in.WaterUsage},
		{req.ElectricityUsage, &in.ElectricityUsage},
	} {
		if f.src == nil {
			continue
		}
		v, err := money.Parse(*f.src)
		if err != nil {
			h.handleError(w, err, "parse payment amount")
			return
		}
		*f.dst = &v
	}
	in.Remark = req.Remark
	if in.PeriodStart, err = parsePeriodField(req.PeriodStart); err != nil {
		http.Error(w, "malformed periodStart", http.StatusBadRequest)
		return
	}
	if in.PeriodEnd, err = parsePeriodField(req.PeriodEnd); err != nil {
		http.Error(w, "malformed periodEnd", http.StatusBadRequest)
		return
	}

	payment, err := h.service.UpdatePayment(r.Context(), id, in)
	if err != nil {
		h.handleError(w, err, "update payment error")
		return
	}

	h.writeJSON(w, http.StatusOK, paymentToResponse(payment))
}

// DeletePayment удаляет запись оплаты.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeletePayment(r.Context(), id); err != nil {
		h.handleError(w, err, "delete payment error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type statisticsResponse struct {
	TotalHouses       int64  `json:"totalHouses"`
	AvailableHouses   int64  `json:"availableHouses"`
	RentedHouses      int64  `json:"rentedHouses"`
	MaintenanceHouses int64  `json:"maintenanceHouses"`
	TotalTenants      int64  `json:"totalTenants"`
	TotalIncome       string `json:"totalIncome"`
}

// GetStatistics возвращает сводные показатели.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.GetStatistics(r.Context())
	if err != nil {
		h.handleError(w, err, "get statistics error")
		return
	}

	h.writeJSON(w, http.StatusOK, statisticsResponse{
		TotalHouses:       s.TotalHouses,
		AvailableHouses:   s.AvailableHouses,
		RentedHouses:      s.RentedHouses,
		MaintenanceHouses: s.MaintenanceHouses,
		TotalTenants:      s.TotalTenants,
		TotalIncome:       money.String(s.TotalIncome),
	})
}

type monthlyStatisticsResponse struct {
	MonthlyIncome string `json:"monthlyIncome"`
	RentIncome    string `json:"rentIncome"`
	UtilityIncome string `json:"utilityIncome"`
}

// GetMonthlyStatistics возвращает разбивку поступлений за текущий месяц.
func (h *Handler) GetMonthlyStatistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.GetMonthlyStatistics(r.Context(), time.Now())
	if err != nil {
		h.handleError(w, err, "get monthly statistics error")
		return
	}

	h.writeJSON(w, http.StatusOK, monthlyStatisticsResponse{
		MonthlyIncome: money.String(s.MonthlyIncome),
		RentIncome:    money.String(s.RentIncome),
		UtilityIncome: money.String(s.UtilityIncome),
	})
}
