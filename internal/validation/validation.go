// Package validation содержит функции валидации входных данных.
package validation

import (
	"regexp"

	"github.com/shopspring/decimal"
)

var phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

// IsValidPhone проверяет корректность номера мобильного телефона.
func IsValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// IsNonNegative проверяет, что значение тарифа или показания счётчика
// не отрицательно.
func IsNonNegative(d decimal.Decimal) bool {
	return !d.IsNegative()
}

// IsValidHouseStatus проверяет допустимость статуса дома.
func IsValidHouseStatus(status string) bool {
	switch status {
	case "available", "rented", "maintenance":
		return true
	}
	return false
}
