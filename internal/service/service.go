// Package service реализует бизнес-логику сервиса доставки воды.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mmeshcher/water-delivery-system/internal/apperr"
	"github.com/mmeshcher/water-delivery-system/internal/model"
	"github.com/mmeshcher/water-delivery-system/internal/pricing"
	"github.com/mmeshcher/water-delivery-system/internal/repository"
	"github.com/mmeshcher/water-delivery-system/internal/telegram"
	"github.com/mmeshcher/water-delivery-system/internal/token"
	"github.com/mmeshcher/water-delivery-system/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, telegramID, firstName, lastName string) (*model.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UpdateUserNames(ctx context.Context, id int64, firstName, lastName string) error
	UpdateUserRole(ctx context.Context, id int64, role model.Role) error
	FindOrCreateAddress(ctx context.Context, addr model.Address) (*model.Address, error)
	GetAddressesByUser(ctx context.Context, userID int64) ([]model.Address, error)
	CreateOrder(ctx context.Context, order model.Order, phone string) (*model.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrders(ctx context.Context, region *model.Region) ([]model.Order, error)
	TakeOrder(ctx context.Context, orderID int64, courierID *int64) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, courierGuard *int64) (*model.Order, error)
	GetCitiesByRegion(ctx context.Context, region model.Region) ([]string, error)
}

// Settings содержит неизменяемые параметры бизнес-логики, заданные при старте.
type Settings struct {
	BotToken        string
	BootstrapSecret string
	PricePerBottle  int64
}

// Service содержит бизнес-логику сервиса доставки воды.
type Service struct {
	repo     Repository
	tokens   *token.Manager
	settings Settings
}

// NewService создаёт новый сервис с указанным репозиторием и менеджером токенов.
func NewService(repo Repository, tokens *token.Manager, settings Settings) *Service {
	return &Service{
		repo:     repo,
		tokens:   tokens,
		settings: settings,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RequireRole проверяет, что роль субъекта входит в набор разрешённых.
func RequireRole(p model.Principal, allowed ...model.Role) error {
	for _, role := range allowed {
		if p.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s is not allowed", apperr.ErrForbidden, p.Role)
}

// Login проверяет данные запуска мини-приложения, создаёт или обновляет
// пользователя и выпускает токен доступа.
func (s *Service) Login(ctx context.Context, initData string) (string, error) {
	fields, err := telegram.Validate(initData, s.settings.BotToken, time.Now())
	if err != nil {
		return "", err
	}

	webUser, err := telegram.ParseUser(fields)
	if err != nil {
		return "", err
	}

	user, err := s.reconcileUser(ctx, webUser)
	if err != nil {
		return "", err
	}

	return s.tokens.Issue(user.ID, user.Role)
}

// reconcileUser находит пользователя по идентификатору Telegram, создаёт его
// при первом входе и синхронизирует изменившиеся имена. На один вызов
// приходится не более одной записи в БД; роль здесь не меняется.
func (s *Service) reconcileUser(ctx context.Context, webUser *telegram.WebAppUser) (*model.User, error) {
	telegramID := strconv.FormatInt(webUser.ID, 10)

	user, err := s.repo.GetUserByTelegramID(ctx, telegramID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return s.repo.CreateUser(ctx, telegramID, webUser.FirstName, webUser.LastName)
	}
	if err != nil {
		return nil, err
	}

	if user.FirstName != webUser.FirstName || user.LastName != webUser.LastName {
		if err := s.repo.UpdateUserNames(ctx, user.ID, webUser.FirstName, webUser.LastName); err != nil {
			return nil, err
		}
		user.FirstName = webUser.FirstName
		user.LastName = webUser.LastName
	}

	return user, nil
}

// EscalateRole повышает роль субъекта до operator или courier при совпадении
// бутстрап-секрета и выпускает новый токен с обновлённой ролью.
func (s *Service) EscalateRole(ctx context.Context, p model.Principal, secret string, target model.Role) (string, error) {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.settings.BootstrapSecret)) != 1 {
		return "", fmt.Errorf("%w: bootstrap secret mismatch", apperr.ErrForbidden)
	}

	if target != model.RoleOperator && target != model.RoleCourier {
		return "", fmt.Errorf("%w: role %s is not escalatable", apperr.ErrValidation, target)
	}

	if err := s.repo.UpdateUserRole(ctx, p.UserID, target); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", fmt.Errorf("%w: user not found", apperr.ErrAuthentication)
		}
		return "", err
	}

	return s.tokens.Issue(p.UserID, target)
}

// AddressInput описывает поля адреса доставки.
type AddressInput struct {
	Region    model.Region
	City      string
	Street    string
	House     string
	Entrance  *string
	Apartment *string
	Floor     *string
}

func (in AddressInput) validate() error {
	if !in.Region.Valid() {
		return fmt.Errorf("%w: unknown region %q", apperr.ErrValidation, in.Region)
	}
	if in.City == "" || in.Street == "" || in.House == "" {
		return fmt.Errorf("%w: city, street and house are required", apperr.ErrValidation)
	}
	return nil
}

// CreateAddress возвращает существующий адрес субъекта с тем же кортежем
// полей либо создаёт новый.
func (s *Service) CreateAddress(ctx context.Context, p model.Principal, in AddressInput) (*model.Address, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	return s.repo.FindOrCreateAddress(ctx, model.Address{
		UserID:    p.UserID,
		Region:    in.Region,
		City:      in.City,
		Street:    in.Street,
		House:     in.House,
		Entrance:  in.Entrance,
		Apartment: in.Apartment,
		Floor:     in.Floor,
	})
}

// ListAddresses возвращает адреса субъекта, новые первыми.
func (s *Service) ListAddresses(ctx context.Context, p model.Principal) ([]model.Address, error) {
	return s.repo.GetAddressesByUser(ctx, p.UserID)
}

// OrderInput описывает поля нового заказа.
type OrderInput struct {
	Bottles         int
	ExchangeBottles int
	DeliveryDate    time.Time
	DeliverySlot    model.DeliverySlot
	Address         AddressInput
	Phone           string
	Comment         *string
}

func (in OrderInput) validate() error {
	if !validation.IsValidBottleCount(in.Bottles) || !validation.IsValidBottleCount(in.ExchangeBottles) {
		return fmt.Errorf("%w: bottle counts must be non-negative", apperr.ErrValidation)
	}
	if in.DeliveryDate.IsZero() {
		return fmt.Errorf("%w: delivery date is required", apperr.ErrValidation)
	}
	if !in.DeliverySlot.Valid() {
		return fmt.Errorf("%w: unknown delivery slot %q", apperr.ErrValidation, in.DeliverySlot)
	}
	if !validation.IsValidPhone(in.Phone) {
		return fmt.Errorf("%w: phone must be 1..112 characters", apperr.ErrValidation)
	}
	return in.Address.validate()
}

// CreateOrder создаёт заказ: рассчитывает стоимость, находит или создаёт
// адрес доставки и сохраняет заказ в статусе in_progress без курьера.
// Контактный телефон пользователя обновляется в одной транзакции со
// вставкой заказа.
func (s *Service) CreateOrder(ctx context.Context, p model.Principal, in OrderInput) (*model.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	addr, err := s.repo.FindOrCreateAddress(ctx, model.Address{
		UserID:    p.UserID,
		Region:    in.Address.Region,
		City:      in.Address.City,
		Street:    in.Address.Street,
		House:     in.Address.House,
		Entrance:  in.Address.Entrance,
		Apartment: in.Address.Apartment,
		Floor:     in.Address.Floor,
	})
	if err != nil {
		return nil, err
	}

	total := pricing.Total(in.Bottles, in.ExchangeBottles, s.settings.PricePerBottle)

	return s.repo.CreateOrder(ctx, model.Order{
		UserID:          p.UserID,
		AddressID:       addr.ID,
		Bottles:         in.Bottles,
		ExchangeBottles: in.ExchangeBottles,
		TotalAmount:     total,
		DeliveryDate:    in.DeliveryDate,
		DeliverySlot:    in.DeliverySlot,
		Status:          model.OrderStatusInProgress,
		Comment:         in.Comment,
	}, in.Phone)
}

// GetOrder возвращает заказ по идентификатору. Клиент видит только свои
// заказы, персоналу доступны все; чужой заказ для клиента неотличим от
// несуществующего.
func (s *Service) GetOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID)
		}
		return nil, err
	}

	if order.UserID != p.UserID {
		if err := RequireRole(p, model.RoleOperator, model.RoleCourier); err != nil {
			return nil, fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID)
		}
	}

	return order, nil
}

// ListOrders возвращает все заказы для персонала, при необходимости
// отфильтрованные по зоне доставки.
func (s *Service) ListOrders(ctx context.Context, p model.Principal, region *model.Region) ([]model.Order, error) {
	if err := RequireRole(p, model.RoleOperator, model.RoleCourier); err != nil {
		return nil, err
	}
	if region != nil && !region.Valid() {
		return nil, fmt.Errorf("%w: unknown region %q", apperr.ErrValidation, *region)
	}
	return s.repo.GetOrders(ctx, region)
}

// ListMyOrders возвращает заказы субъекта, новые первыми.
func (s *Service) ListMyOrders(ctx context.Context, p model.Principal) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, p.UserID)
}

// TakeOrder закрепляет заказ за курьером. Оператор возвращает заказ в
// работу без закрепления. Статус заказа принудительно становится in_progress.
func (s *Service) TakeOrder(ctx context.Context, p model.Principal, orderID int64) (*model.Order, error) {
	if err := RequireRole(p, model.RoleOperator, model.RoleCourier); err != nil {
		return nil, err
	}

	var courierID *int64
	if p.Role == model.RoleCourier {
		courierID = &p.UserID
	}

	order, err := s.repo.TakeOrder(ctx, orderID, courierID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID)
		}
		return nil, err
	}

	return order, nil
}

// SetOrderStatus устанавливает статус заказа. Курьер может менять только
// незакреплённые или свои заказы; оператору ограничение не действует.
func (s *Service) SetOrderStatus(ctx context.Context, p model.Principal, orderID int64, status model.OrderStatus) (*model.Order, error) {
	if err := RequireRole(p, model.RoleOperator, model.RoleCourier); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperr.ErrValidation, status)
	}

	var courierGuard *int64
	if p.Role == model.RoleCourier {
		courierGuard = &p.UserID
	}

	order, err := s.repo.UpdateOrderStatus(ctx, orderID, status, courierGuard)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID)
		}
		if errors.Is(err, repository.ErrOrderAssignedToAnother) {
			return nil, fmt.Errorf("%w: order %d is assigned to another courier", apperr.ErrForbidden, orderID)
		}
		return nil, err
	}

	return order, nil
}

// ListCities возвращает отсортированный список городов с заказами в зоне доставки.
func (s *Service) ListCities(ctx context.Context, p model.Principal, region model.Region) ([]string, error) {
	if err := RequireRole(p, model.RoleOperator, model.RoleCourier); err != nil {
		return nil, err
	}
	if !region.Valid() {
		return nil, fmt.Errorf("%w: unknown region %q", apperr.ErrValidation, region)
	}
	return s.repo.GetCitiesByRegion(ctx, region)
}
