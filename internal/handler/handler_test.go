package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/renthome-system/internal/billing"
	"github.com/mmeshcher/renthome-system/internal/middleware"
	"github.com/mmeshcher/renthome-system/internal/model"
	"github.com/mmeshcher/renthome-system/internal/repository"
	"github.com/mmeshcher/renthome-system/internal/service"
)

type stubService struct {
	authUser *model.User
	authErr  error

	userResp *model.User
	userErr  error

	houseResp *model.House
	houseErr  error

	housesResp []model.House

	tenantResp *model.Tenant
	tenantErr  error

	tenantByPhoneResp *model.Tenant
	tenantByPhoneErr  error

	tenantsResp []model.Tenant

	paymentResp *model.Payment
	paymentErr  error

	paymentsResp []model.Payment
	paymentsErr  error

	// lastTenantFilter фиксирует фильтр, переданный в ListPaymentsByHouse.
	lastTenantFilter *int64

	balanceResp decimal.Decimal
	balanceErr  error

	statusResp *model.HousePaymentStatus
	statusErr  error

	statsResp        *model.Statistics
	monthlyStatsResp *model.MonthlyStatistics
}

func (s *stubService) RegisterUser(ctx context.Context, phone, password, name string) (int64, error) {
	return 1, nil
}

func (s *stubService) AuthenticateUser(ctx context.Context, phone, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.userResp, s.userErr
}

func (s *stubService) SaveRefreshToken(ctx context.Context, userID int64, token string, expires time.Time) error {
	return nil
}

func (s *stubService) ValidateRefreshToken(ctx context.Context, userID int64, token string) (*model.User, error) {
	return s.userResp, s.userErr
}

func (s *stubService) CreateHouse(ctx context.Context, h *model.House) (int64, error) {
	return 1, s.houseErr
}

func (s *stubService) GetHouse(ctx context.Context, id int64) (*model.House, error) {
	return s.houseResp, s.houseErr
}

func (s *stubService) ListHouses(ctx context.Context) ([]model.House, error) {
	return s.housesResp, s.houseErr
}

func (s *stubService) UpdateHouse(ctx context.Context, h *model.House) error {
	return s.houseErr
}

func (s *stubService) DeleteHouse(ctx context.Context, id int64) error {
	return s.houseErr
}

func (s *stubService) CreateTenant(ctx context.Context, t *model.Tenant) (int64, error) {
	return 1, s.tenantErr
}

func (s *stubService) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	return s.tenantResp, s.tenantErr
}

func (s *stubService) GetTenantByPhone(ctx context.Context, phone string) (*model.Tenant, error) {
	return s.tenantByPhoneResp, s.tenantByPhoneErr
}

func (s *stubService) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	return s.tenantsResp, s.tenantErr
}

func (s *stubService) UpdateTenant(ctx context.Context, t *model.Tenant) error {
	return s.tenantErr
}

func (s *stubService) DeleteTenant(ctx context.Context, id int64) error {
	return s.tenantErr
}

func (s *stubService) RecordPayment(ctx context.Context, houseID int64, in billing.PaymentInput) (*model.Payment, error) {
	return s.paymentResp, s.paymentErr
}

func (s *stubService) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	return s.paymentResp, s.paymentErr
}

func (s *stubService) ListPaymentsByHouse(ctx context.Context, houseID int64, tenantID *int64) ([]model.Payment, error) {
	s.lastTenantFilter = tenantID
	return s.paymentsResp, s.paymentsErr
}

func (s *stubService) ListPaymentsByTenant(ctx context.Context, tenantID int64) ([]model.Payment, error) {
	return s.paymentsResp, s.paymentsErr
}

func (s *stubService) GetHouseBalance(ctx context.Context, houseID int64) (decimal.Decimal, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) GetHousePaymentStatus(ctx context.Context, houseID int64) (*model.HousePaymentStatus, error) {
	return s.statusResp, s.statusErr
}

func (s *stubService) UpdatePayment(ctx context.Context, id int64, in service.UpdatePaymentInput) (*model.Payment, error) {
	return s.paymentResp, s.paymentErr
}

func (s *stubService) DeletePayment(ctx context.Context, id int64) error {
	return s.paymentErr
}

func (s *stubService) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	return s.statsResp, nil
}

func (s *stubService) GetMonthlyStatistics(ctx context.Context, now time.Time) (*model.MonthlyStatistics, error) {
	return s.monthlyStatsResp, nil
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

// chiRequest собирает запрос с заполненными URL-параметрами chi.
func chiRequest(method, target string, body io.Reader, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func authRequest(t *testing.T, h *Handler, req *http.Request, u *model.User) *http.Request {
	t.Helper()

	token, err := h.authMiddleware.IssueAccessToken(u)
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestLogin_Success(t *testing.T) {
	admin := &model.User{
		ID:    1,
		Phone: "13800000001",
		Name:  "admin",
		Role:  model.UserRoleAdmin,
	}
	svc := &stubService{authUser: admin}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(loginRequest{
		Phone:    "13800000001",
		Password: "secret",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp loginResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" || resp.RefreshToken == "" {
		t.Fatal("expected both tokens in response")
	}
	if resp.User.Role != "admin" {
		t.Fatalf("user role = %q, want admin", resp.User.Role)
	}
}

func TestLogin_UnauthorizedOnBadCredentials(t *testing.T) {
	svc := &stubService{authErr: service.ErrInvalidCredentials}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(loginRequest{
		Phone:    "13800000001",
		Password: "wrong",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestGetHouse_NotFound(t *testing.T) {
	svc := &stubService{houseErr: repository.ErrHouseNotFound}
	h := newTestHandler(t, svc)

	r := chiRequest(http.MethodGet, "/api/houses/7", nil, map[string]string{"id": "7"})
	rec := httptest.NewRecorder()

	h.GetHouse(rec, r)

	res := rec.Result()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestCreatePayment_ConflictWithoutTenant(t *testing.T) {
	svc := &stubService{paymentErr: billing.ErrNoActiveTenant}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(paymentRequest{
		HouseID:          1,
		Amount:           "1000.00",
		WaterUsage:       "12.00",
		ElectricityUsage: "30.00",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreatePayment(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestCreatePayment_MalformedAmount(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(paymentRequest{
		HouseID:          1,
		Amount:           "not-a-number",
		WaterUsage:       "12.00",
		ElectricityUsage: "30.00",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreatePayment(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestCreatePayment_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		paymentResp: &model.Payment{
			ID:               5,
			HouseID:          1,
			TenantID:         2,
			Amount:           decimal.RequireFromString("1000"),
			BaseRent:         decimal.RequireFromString("800"),
			WaterUsage:       decimal.RequireFromString("12"),
			ElectricityUsage: decimal.RequireFromString("30"),
			Balance:          decimal.RequireFromString("10"),
			CreatedAt:        now,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(paymentRequest{
		HouseID:          1,
		Amount:           "1000.00",
		WaterUsage:       "12.00",
		ElectricityUsage: "30.00",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreatePayment(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp paymentResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Balance != "10.00" {
		t.Fatalf("balance = %q, want 10.00", resp.Balance)
	}
	if resp.Amount != "1000.00" {
		t.Fatalf("amount = %q, want 1000.00", resp.Amount)
	}
}

func TestGetHousePayments_UserSeesOnlyOwn(t *testing.T) {
	svc := &stubService{
		tenantByPhoneResp: &model.Tenant{ID: 9, Phone: "13800000002"},
		paymentsResp:      []model.Payment{},
	}
	h := newTestHandler(t, svc)

	req := chiRequest(http.MethodGet, "/api/payments/house/1", nil, map[string]string{"houseID": "1"})
	req = authRequest(t, h, req, &model.User{
		ID:    2,
		Phone: "13800000002",
		Role:  model.UserRoleUser,
	})

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.GetHousePayments))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.lastTenantFilter == nil || *svc.lastTenantFilter != 9 {
		t.Fatalf("tenant filter = %v, want 9", svc.lastTenantFilter)
	}
}

func TestGetHousePaymentStatus_JSONResponse(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubService{
		statusResp: &model.HousePaymentStatus{
			Status: model.PaymentStateUnpaid,
			Amount: decimal.RequireFromString("45"),
		},
	}
	svc.statusResp.LastPaymentDate = &last
	h := newTestHandler(t, svc)

	req := chiRequest(http.MethodGet, "/api/payments/house/1/status", nil, map[string]string{"houseID": "1"})
	rec := httptest.NewRecorder()

	h.GetHousePaymentStatus(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp paymentStatusResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "unpaid" {
		t.Fatalf("status = %q, want unpaid", resp.Status)
	}
	if resp.Amount != "45.00" {
		t.Fatalf("amount = %q, want 45.00", resp.Amount)
	}
}

func TestRouter_AdminOnlyRoutes(t *testing.T) {
	svc := &stubService{
		statsResp: &model.Statistics{},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/statistics/overview", nil)
	req = authRequest(t, h, req, &model.User{
		ID:    2,
		Phone: "13800000002",
		Role:  model.UserRoleUser,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}
