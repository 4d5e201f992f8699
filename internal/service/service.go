// Package service реализует бизнес-логику сервиса аренды жилья.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/renthome-system/internal/billing"
	"github.com/mmeshcher/renthome-system/internal/model"
	"github.com/mmeshcher/renthome-system/internal/repository"
	"github.com/mmeshcher/renthome-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверном телефоне или пароле.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation возвращается при некорректных входных данных,
	// до обращения к хранилищу.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidRefreshToken возвращается при просроченном или чужом refresh-токене.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, phone, name string, passwordHash []byte, role model.UserRole) (int64, error)
	GetUserByPhone(ctx context.Context, phone string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UpdateRefreshToken(ctx context.Context, userID int64, token string, expires time.Time) error

	CreateHouse(ctx context.Context, h *model.House) (int64, error)
	GetHouseByID(ctx context.Context, id int64) (*model.House, error)
	ListHouses(ctx context.Context) ([]model.House, error)
	UpdateHouse(ctx context.Context, h *model.House) error
	UpdateHouseStatus(ctx context.Context, id int64, status model.HouseStatus) error
	DeleteHouse(ctx context.Context, id int64) error

	CreateTenant(ctx context.Context, t *model.Tenant) (int64, error)
	GetTenantByID(ctx context.Context, id int64) (*model.Tenant, error)
	GetTenantByPhone(ctx context.Context, phone string) (*model.Tenant, error)
	GetActiveTenantForHouse(ctx context.Context, houseID int64) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	UpdateTenant(ctx context.Context, t *model.Tenant) error
	DeleteTenant(ctx context.Context, id int64) error

	CreatePayment(ctx context.Context, houseID int64, in billing.PaymentInput) (*model.Payment, error)
	GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error)
	ListPaymentsByHouse(ctx context.Context, houseID int64, tenantID *int64) ([]model.Payment, error)
	ListPaymentsByTenant(ctx context.Context, tenantID int64) ([]model.Payment, error)
	GetLastPaymentForHouse(ctx context.Context, houseID int64) (*model.Payment, error)
	UpdatePayment(ctx context.Context, p *model.Payment) error
	DeletePayment(ctx context.Context, id int64) error

	GetStatistics(ctx context.Context) (*model.Statistics, error)
	GetMonthlyStatistics(ctx context.Context, from, to time.Time) (*model.MonthlyStatistics, error)
}

// Service содержит бизнес-логику сервиса аренды жилья.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// BootstrapAdmin создаёт учётную запись администратора, если её ещё нет.
func (s *Service) BootstrapAdmin(ctx context.Context, phone, password, name string) error {
	if phone == "" || password == "" {
		return nil
	}

	_, err := s.repo.GetUserByPhone(ctx, phone)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = s.repo.CreateUser(ctx, phone, name, hash, model.UserRoleAdmin)
	if err != nil && !errors.Is(err, repository.ErrUserExists) {
		return err
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с ролью user.
func (s *Service) RegisterUser(ctx context.Context, phone, password, name string) (int64, error) {
	if !validation.IsValidPhone(phone) {
		return 0, fmt.Errorf("%w: malformed phone", ErrValidation)
	}
	if password == "" {
		return 0, fmt.Errorf("%w: empty password", ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	return s.repo.CreateUser(ctx, phone, name, hash, model.UserRoleUser)
}

// AuthenticateUser проверяет телефон и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, phone, password string) (*model.User, error) {
	u, err := s.repo.GetUserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// SaveRefreshToken сохраняет выданный refresh-токен пользователя.
func (s *Service) SaveRefreshToken(ctx context.Context, userID int64, token string, expires time.Time) error {
	return s.repo.UpdateRefreshToken(ctx, userID, token, expires)
}

// ValidateRefreshToken сверяет предъявленный refresh-токен с сохранённым
// и возвращает пользователя для выпуска новой пары токенов.
func (s *Service) ValidateRefreshToken(ctx context.Context, userID int64, token string) (*model.User, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	if u.RefreshToken == "" || u.RefreshToken != token {
		return nil, ErrInvalidRefreshToken
	}
	if u.RefreshTokenExpires != nil && u.RefreshTokenExpires.Before(time.Now()) {
		return nil, ErrInvalidRefreshToken
	}

	return u, nil
}

func validateHouse(h *model.House) error {
	for _, v := range []decimal.Decimal{
		h.BaseRent, h.WaterRate, h.ElectricityRate,
		h.InitialWaterReading, h.InitialElectricityReading,
	} {
		if !validation.IsNonNegative(v) {
			return fmt.Errorf("%w: rates and readings must be non-negative", ErrValidation)
		}
	}
	if !validation.IsValidHouseStatus(string(h.Status)) {
		return fmt.Errorf("%w: unknown house status %q", ErrValidation, h.Status)
	}
	return nil
}

// CreateHouse сохраняет новый дом.
func (s *Service) CreateHouse(ctx context.Context, h *model.House) (int64, error) {
	if h.Status == "" {
		h.Status = model.HouseStatusAvailable
	}
	if err := validateHouse(h); err != nil {
		return 0, err
	}
	return s.repo.CreateHouse(ctx, h)
}

// GetHouse возвращает дом по идентификатору.
func (s *Service) GetHouse(ctx context.Context, id int64) (*model.House, error) {
	return s.repo.GetHouseByID(ctx, id)
}

// ListHouses возвращает все дома.
func (s *Service) ListHouses(ctx context.Context) ([]model.House, error) {
	return s.repo.ListHouses(ctx)
}

// UpdateHouse обновляет атрибуты дома.
func (s *Service) UpdateHouse(ctx context.Context, h *model.House) error {
	if err := validateHouse(h); err != nil {
		return err
	}
	return s.repo.UpdateHouse(ctx, h)
}

// DeleteHouse удаляет дом.
func (s *Service) DeleteHouse(ctx context.Context, id int64) error {
	return s.repo.DeleteHouse(ctx, id)
}

func validateTenant(t *model.Tenant) error {
	if t.Name == "" {
		return fmt.Errorf("%w: empty tenant name", ErrValidation)
	}
	if !validation.IsValidPhone(t.Phone) {
		return fmt.Errorf("%w: malformed phone", ErrValidation)
	}
	if t.EndDate != nil && t.EndDate.Before(t.StartDate) {
		return fmt.Errorf("%w: lease end before start", ErrValidation)
	}
	return nil
}

// CreateTenant сохраняет нового жильца; при указанном доме выполняет заселение.
// Заселение в занятый дом отклоняется, состояние дома при этом не меняется.
func (s *Service) CreateTenant(ctx context.Context, t *model.Tenant) (int64, error) {
	if err := validateTenant(t); err != nil {
		return 0, err
	}
	return s.repo.CreateTenant(ctx, t)
}

// GetTenant возвращает жильца по идентификатору.
func (s *Service) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	return s.repo.GetTenantByID(ctx, id)
}

// GetTenantByPhone возвращает жильца по номеру телефона.
func (s *Service) GetTenantByPhone(ctx context.Context, phone string) (*model.Tenant, error) {
	return s.repo.GetTenantByPhone(ctx, phone)
}

// ListTenants возвращает всех жильцов.
func (s *Service) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	return s.repo.ListTenants(ctx)
}

// UpdateTenant обновляет данные жильца, включая перепривязку к другому дому.
func (s *Service) UpdateTenant(ctx context.Context, t *model.Tenant) error {
	if err := validateTenant(t); err != nil {
		return err
	}
	return s.repo.UpdateTenant(ctx, t)
}

// DeleteTenant удаляет жильца; его дом переводится в состояние available.
func (s *Service) DeleteTenant(ctx context.Context, id int64) error {
	return s.repo.DeleteTenant(ctx, id)
}

// RecordPayment регистрирует событие оплаты по дому.
func (s *Service) RecordPayment(ctx context.Context, houseID int64, in billing.PaymentInput) (*model.Payment, error) {
	for _, v := range []decimal.Decimal{in.Amount, in.WaterUsage, in.ElectricityUsage} {
		if !validation.IsNonNegative(v) {
			return nil, fmt.Errorf("%w: amounts and readings must be non-negative", ErrValidation)
		}
	}
	return s.repo.CreatePayment(ctx, houseID, in)
}

// GetPayment возвращает запись оплаты по идентификатору.
func (s *Service) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	return s.repo.GetPaymentByID(ctx, id)
}

// ListPaymentsByHouse возвращает историю оплат по дому.
func (s *Service) ListPaymentsByHouse(ctx context.Context, houseID int64, tenantID *int64) ([]model.Payment, error) {
	if _, err := s.repo.GetHouseByID(ctx, houseID); err != nil {
		return nil, err
	}
	return s.repo.ListPaymentsByHouse(ctx, houseID, tenantID)
}

// ListPaymentsByTenant возвращает историю оплат жильца.
func (s *Service) ListPaymentsByTenant(ctx context.Context, tenantID int64) ([]model.Payment, error) {
	return s.repo.ListPaymentsByTenant(ctx, tenantID)
}

// GetHouseBalance возвращает накопленный баланс по дому:
// баланс последней оплаты либо ноль.
func (s *Service) GetHouseBalance(ctx context.Context, houseID int64) (decimal.Decimal, error) {
	if _, err := s.repo.GetHouseByID(ctx, houseID); err != nil {
		return decimal.Zero, err
	}

	last, err := s.repo.GetLastPaymentForHouse(ctx, houseID)
	if err != nil {
		return decimal.Zero, err
	}
	if last == nil {
		return decimal.Zero, nil
	}
	return last.Balance, nil
}

// GetHousePaymentStatus выполняет сверку оплат по дому.
func (s *Service) GetHousePaymentStatus(ctx context.Context, houseID int64) (*model.HousePaymentStatus, error) {
	house, err := s.repo.GetHouseByID(ctx, houseID)
	if err != nil {
		return nil, err
	}

	tenant, err := s.repo.GetActiveTenantForHouse(ctx, houseID)
	if err != nil {
		return nil, err
	}

	payments, err := s.repo.ListPaymentsByHouse(ctx, houseID, nil)
	if err != nil {
		return nil, err
	}

	st := billing.StatusForHouse(house, tenant, payments)
	return &st, nil
}

// UpdatePaymentInput содержит редактируемые поля записи оплаты.
// Nil-поле означает «оставить без изменений».
type UpdatePaymentInput struct {
	Amount           *decimal.Decimal
	WaterUsage       *decimal.Decimal
	ElectricityUsage *decimal.Decimal
	Remark           *string
	PeriodStart      *time.Time
	PeriodEnd        *time.Time
}

// UpdatePayment перезаписывает поля записи оплаты. Баланс самой записи и
// цепочка последующих балансов сознательно не пересчитываются; актуальную
// картину даёт GetHousePaymentStatus.
func (s *Service) UpdatePayment(ctx context.Context, id int64, in UpdatePaymentInput) (*model.Payment, error) {
	p, err := s.repo.GetPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Amount != nil {
		if !validation.IsNonNegative(*in.Amount) {
			return nil, fmt.Errorf("%w: negative amount", ErrValidation)
		}
		p.Amount = *in.Amount
	}
	if in.WaterUsage != nil {
		if !validation.IsNonNegative(*in.WaterUsage) {
			return nil, fmt.Errorf("%w: negative water usage", ErrValidation)
		}
		p.WaterUsage = *in.WaterUsage
	}
	if in.ElectricityUsage != nil {
		if !validation.IsNonNegative(*in.ElectricityUsage) {
			return nil, fmt.Errorf("%w: negative electricity usage", ErrValidation)
		}
		p.ElectricityUsage = *in.ElectricityUsage
	}
	if in.Remark != nil {
		p.Remark = *in.Remark
	}
	if in.PeriodStart != nil {
		p.PeriodStart = in.PeriodStart
	}
	if in.PeriodEnd != nil {
		p.PeriodEnd = in.PeriodEnd
	}

	if err := s.repo.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePayment удаляет запись оплаты.
func (s *Service) DeletePayment(ctx context.Context, id int64) error {
	return s.repo.DeletePayment(ctx, id)
}

// GetStatistics возвращает сводные показатели по домам, жильцам и доходу.
func (s *Service) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	return s.repo.GetStatistics(ctx)
}

// GetMonthlyStatistics возвращает разбивку поступлений за текущий месяц.
func (s *Service) GetMonthlyStatistics(ctx context.Context, now time.Time) (*model.MonthlyStatistics, error) {
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 1, 0)
	return s.repo.GetMonthlyStatistics(ctx, from, to)
}
