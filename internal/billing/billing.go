// Package billing реализует расчёт начислений и баланса по дому.
//
// Расчёт чисто функциональный: пакет не обращается к хранилищу, все
// входные данные передаются явно, результат возвращается вызывающему
// слою для сохранения.
package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/renthome-system/internal/model"
	"github.com/mmeshcher/renthome-system/internal/money"
)

// ErrNoActiveTenant возвращается при попытке начислить оплату дому без жильца.
var ErrNoActiveTenant = errors.New("house has no active tenant")

// Readings содержит показания счётчиков воды и электричества.
type Readings struct {
	Water       decimal.Decimal
	Electricity decimal.Decimal
}

// PaymentInput содержит данные одного события оплаты от клиента.
type PaymentInput struct {
	Amount           decimal.Decimal
	WaterUsage       decimal.Decimal
	ElectricityUsage decimal.Decimal
	Remark           string
	PeriodStart      *time.Time
	PeriodEnd        *time.Time
}

// ExpectedAmount вычисляет сумму к оплате за период:
// базовая аренда плюс дельты показаний, умноженные на тарифы.
// Каждая промежуточная операция округляется до двух знаков.
func ExpectedAmount(house *model.House, current, previous Readings) decimal.Decimal {
	waterFee := money.Mul(money.Sub(current.Water, previous.Water), house.WaterRate)
	electricityFee := money.Mul(money.Sub(current.Electricity, previous.Electricity), house.ElectricityRate)
	return money.Add(house.BaseRent, money.Add(waterFee, electricityFee))
}

// PreviousReadings возвращает показания предыдущего события оплаты,
// либо начальные показания дома, если оплат ещё не было.
func PreviousReadings(house *model.House, last *model.Payment) Readings {
	if last == nil {
		return Readings{
			Water:       house.InitialWaterReading,
			Electricity: house.InitialElectricityReading,
		}
	}
	return Readings{
		Water:       last.WaterUsage,
		Electricity: last.ElectricityUsage,
	}
}

// BuildPayment формирует запись оплаты: фиксирует предыдущие показания и
// тариф, вычисляет ожидаемую сумму и новый накопленный баланс.
// Положительный баланс — переплата, отрицательный — задолженность.
// Запись не сохраняется; состояние дома и жильца не изменяется.
func BuildPayment(house *model.House, tenant *model.Tenant, last *model.Payment, in PaymentInput) (*model.Payment, error) {
	if tenant == nil {
		return nil, ErrNoActiveTenant
	}

	previous := PreviousReadings(house, last)
	current := Readings{Water: in.WaterUsage, Electricity: in.ElectricityUsage}

	expected := ExpectedAmount(house, current, previous)

	priorBalance := decimal.Zero
	if last != nil {
		priorBalance = last.Balance
	}
	balance := money.Sub(in.Amount, money.Add(expected, priorBalance))

	return &model.Payment{
		HouseID:                  house.ID,
		TenantID:                 tenant.ID,
		Amount:                   money.Round(in.Amount),
		BaseRent:                 money.Round(house.BaseRent),
		WaterUsage:               money.Round(in.WaterUsage),
		ElectricityUsage:         money.Round(in.ElectricityUsage),
		PreviousWaterUsage:       money.Round(previous.Water),
		PreviousElectricityUsage: money.Round(previous.Electricity),
		Balance:                  balance,
		Remark:                   in.Remark,
		PeriodStart:              in.PeriodStart,
		PeriodEnd:                in.PeriodEnd,
	}, nil
}

// StatusForHouse выполняет сверку оплат по дому на текущий момент.
//
// Если у дома нет жильца или истории оплат — статус no_tenant. Иначе
// суммарно внесённые средства сравниваются с ожидаемой суммой,
// рассчитанной по показаниям последней оплаты. Сверка не зависит от
// хранимого поля баланса и может расходиться с ним после ручных правок
// отдельных оплат.
func StatusForHouse(house *model.House, tenant *model.Tenant, payments []model.Payment) model.HousePaymentStatus {
	if tenant == nil || len(payments) == 0 {
		return model.HousePaymentStatus{
			Status: model.PaymentStateNoTenant,
			Amount: decimal.Zero,
		}
	}

	last := payments[0]
	for _, p := range payments[1:] {
		if p.CreatedAt.After(last.CreatedAt) {
			last = p
		}
	}

	expected := money.Add(house.BaseRent, money.Add(
		money.Mul(last.WaterUsage, house.WaterRate),
		money.Mul(last.ElectricityUsage, house.ElectricityRate),
	))

	paid := decimal.Zero
	for _, p := range payments {
		paid = money.Add(paid, p.Amount)
	}

	diff := money.Sub(paid, expected)
	status := model.PaymentStatePaid
	if diff.IsNegative() {
		status = model.PaymentStateUnpaid
	}

	lastDate := last.CreatedAt
	return model.HousePaymentStatus{
		Status:          status,
		Amount:          diff.Abs(),
		LastPaymentDate: &lastDate,
	}
}
