// Package model содержит доменные сущности сервиса доставки воды.
package model

import "time"

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleClient   Role = "client"
	RoleOperator Role = "operator"
	RoleCourier  Role = "courier"
)

// Valid сообщает, является ли значение одной из известных ролей.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleOperator, RoleCourier:
		return true
	}
	return false
}

// Region описывает зону доставки.
type Region string

const (
	RegionCity  Region = "city"
	RegionMirny Region = "mirny"
)

// Valid сообщает, является ли значение одной из известных зон доставки.
func (r Region) Valid() bool {
	return r == RegionCity || r == RegionMirny
}

// DeliverySlot описывает интервал доставки заказа.
type DeliverySlot string

const (
	SlotBefore15 DeliverySlot = "before_15"
	SlotBefore21 DeliverySlot = "before_21"
)

// Valid сообщает, является ли значение одним из известных интервалов.
func (s DeliverySlot) Valid() bool {
	return s == SlotBefore15 || s == SlotBefore21
}

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCanceled   OrderStatus = "canceled"
)

// Valid сообщает, является ли значение одним из известных статусов.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusInProgress, OrderStatusCompleted, OrderStatusCanceled:
		return true
	}
	return false
}

// User представляет пользователя, созданного при первом входе через Telegram.
type User struct {
	ID         int64
	TelegramID string
	FirstName  string
	LastName   string
	Phone      string
	Role       Role
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Address представляет адрес доставки пользователя. После создания адрес не меняется.
type Address struct {
	ID        int64
	UserID    int64
	Region    Region
	City      string
	Street    string
	House     string
	Entrance  *string
	Apartment *string
	Floor     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order представляет заказ на доставку воды.
type Order struct {
	ID              int64
	UserID          int64
	AddressID       int64
	Bottles         int
	ExchangeBottles int
	TotalAmount     int64
	DeliveryDate    time.Time
	DeliverySlot    DeliverySlot
	Status          OrderStatus
	CourierID       *int64
	Comment         *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Principal описывает аутентифицированного субъекта текущего запроса.
// Роль берётся из актуальной записи пользователя, а не из токена.
type Principal struct {
	UserID int64
	Role   Role
}
