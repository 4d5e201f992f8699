// Package model содержит доменные сущности сервиса аренды жилья.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserRole описывает роль пользователя системы.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// User представляет учётную запись администратора или жильца.
type User struct {
	ID                  int64
	Phone               string
	PasswordHash        []byte
	Name                string
	Role                UserRole
	RefreshToken        string
	RefreshTokenExpires *time.Time
	CreatedAt           time.Time
}

// HouseStatus описывает состояние занятости дома.
type HouseStatus string

const (
	HouseStatusAvailable   HouseStatus = "available"
	HouseStatusRented      HouseStatus = "rented"
	HouseStatusMaintenance HouseStatus = "maintenance"
)

// House описывает сдаваемый дом с тарифами на аренду и коммунальные услуги.
// Ставки и начальные показания счётчиков неотрицательны.
type House struct {
	ID                        int64
	Title                     string
	Address                   string
	BaseRent                  decimal.Decimal
	WaterRate                 decimal.Decimal
	ElectricityRate           decimal.Decimal
	InitialWaterReading       decimal.Decimal
	InitialElectricityReading decimal.Decimal
	Area                      decimal.Decimal
	Status                    HouseStatus
	Description               string
	CreatedAt                 time.Time
}

// Tenant описывает жильца, привязанного не более чем к одному дому.
type Tenant struct {
	ID        int64
	Name      string
	Phone     string
	Email     string
	IDCard    string
	StartDate time.Time
	EndDate   *time.Time
	HouseID   *int64
	CreatedAt time.Time
}

// Payment описывает одно событие оплаты. При создании запись фиксирует
// тариф и показания счётчиков; последующие правки не пересчитывают
// зависимые балансы.
type Payment struct {
	ID                       int64
	HouseID                  int64
	TenantID                 int64
	Amount                   decimal.Decimal
	BaseRent                 decimal.Decimal
	WaterUsage               decimal.Decimal
	ElectricityUsage         decimal.Decimal
	PreviousWaterUsage       decimal.Decimal
	PreviousElectricityUsage decimal.Decimal
	Balance                  decimal.Decimal
	Remark                   string
	PeriodStart              *time.Time
	PeriodEnd                *time.Time
	CreatedAt                time.Time
}

// PaymentState описывает статус расчётов по дому.
type PaymentState string

const (
	PaymentStatePaid     PaymentState = "paid"
	PaymentStateUnpaid   PaymentState = "unpaid"
	PaymentStateNoTenant PaymentState = "no_tenant"
)

// HousePaymentStatus содержит результат сверки оплат по дому на текущий момент.
type HousePaymentStatus struct {
	Status          PaymentState
	Amount          decimal.Decimal
	LastPaymentDate *time.Time
}

// Statistics содержит сводные показатели по всем домам и жильцам.
type Statistics struct {
	TotalHouses       int64
	AvailableHouses   int64
	RentedHouses      int64
	MaintenanceHouses int64
	TotalTenants      int64
	TotalIncome       decimal.Decimal
}

// MonthlyStatistics содержит разбивку поступлений за текущий месяц.
type MonthlyStatistics struct {
	MonthlyIncome decimal.Decimal
	RentIncome    decimal.Decimal
	UtilityIncome decimal.Decimal
}
