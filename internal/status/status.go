// Package status реализует машину состояний заказа.
package status

import "github.com/mmeshcher/seomarket-system/internal/model"

// transitions задаёт допустимые переходы между статусами заказа.
// Терминальные статусы (completed, cancelled) не имеют исходящих переходов.
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:    {model.OrderStatusConfirmed, model.OrderStatusCancelled},
	model.OrderStatusConfirmed:  {model.OrderStatusInProgress, model.OrderStatusCancelled},
	model.OrderStatusInProgress: {model.OrderStatusCompleted},
	model.OrderStatusCompleted:  {},
	model.OrderStatusCancelled:  {},
}

// IsValid проверяет, что значение является известным статусом заказа.
func IsValid(s model.OrderStatus) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal возвращает true для статусов, из которых переходы запрещены.
func IsTerminal(s model.OrderStatus) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition проверяет допустимость перехода из статуса from в статус to.
func CanTransition(from, to model.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
