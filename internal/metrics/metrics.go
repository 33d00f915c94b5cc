// Package metrics содержит счётчики Prometheus сервиса доставки воды.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewTokensIssuedTotal возвращает счётчик выпущенных токенов доступа.
func NewTokensIssuedTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokens_issued_total",
		Help: "Total number of access tokens issued after successful login",
	})
}

// NewOrdersCreatedTotal возвращает счётчик созданных заказов.
func NewOrdersCreatedTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of created delivery orders",
	})
}

// Metrics объединяет счётчики, используемые HTTP-обработчиками.
type Metrics struct {
	TokensIssued  prometheus.Counter
	OrdersCreated prometheus.Counter
}

// New создаёт счётчики и регистрирует их в указанном реестре.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokensIssued:  NewTokensIssuedTotal(),
		OrdersCreated: NewOrdersCreatedTotal(),
	}
	reg.MustRegister(m.TokensIssued, m.OrdersCreated)
	return m
}
