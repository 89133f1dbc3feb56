package repository

import "github.com/shopspring/decimal"

// Денежные суммы хранятся в БД в центах; в памяти используется точная
// десятичная арифметика с двумя знаками после запятой.

func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func decimalToCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
