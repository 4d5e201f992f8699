// Package money содержит арифметику денежных сумм с фиксированной точностью.
//
// Все операции возвращают результат, округлённый до двух знаков после
// запятой (половина — от нуля). Округление применяется после каждой
// операции, а не только к итогу: при расчёте начислений промежуточные
// произведения фиксируются до суммирования.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale — число знаков после запятой для всех денежных величин.
const Scale = 2

// ErrInvalidAmount возвращается при разборе некорректной денежной строки.
var ErrInvalidAmount = errors.New("invalid amount")

// Round округляет значение до двух знаков, половина — от нуля.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Add возвращает округлённую сумму a и b.
func Add(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Add(b))
}

// Sub возвращает округлённую разность a и b.
func Sub(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Sub(b))
}

// Mul возвращает округлённое произведение a и b.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Mul(b))
}

// Div возвращает округлённое частное a и b. Деление на ноль даёт ноль.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return Round(a.Div(b))
}

// Parse разбирает денежную строку клиента и нормализует её до двух знаков.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Round(d), nil
}

// ToCents переводит сумму в сотые доли для хранения в BIGINT.
func ToCents(d decimal.Decimal) int64 {
	return Round(d).Shift(Scale).IntPart()
}

// FromCents восстанавливает сумму из сотых долей.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -Scale)
}

// String форматирует сумму строкой с ровно двумя знаками после запятой.
func String(d decimal.Decimal) string {
	return Round(d).StringFixed(Scale)
}
