// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/water-delivery-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAssignedToAnother возвращается, если заказ закреплён за другим курьером.
	ErrOrderAssignedToAnother = errors.New("order assigned to another courier")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при сбоях сериализации, дедлоках и сетевых обрывах.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const userColumns = `id, telegram_id, first_name, last_name, phone, role, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.TelegramID, &u.FirstName, &u.LastName, &u.Phone, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

// CreateUser создаёт нового пользователя с ролью client.
func (r *PostgresRepository) CreateUser(ctx context.Context, telegramID, firstName, lastName string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (telegram_id, first_name, last_name)
		 VALUES ($1, $2, $3)
		 RETURNING `+userColumns,
		telegramID, firstName, lastName,
	)

	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// Параллельный вход того же пользователя: берём уже созданную строку.
			return r.GetUserByTelegramID(ctx, telegramID)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByTelegramID возвращает пользователя по идентификатору Telegram.
func (r *PostgresRepository) GetUserByTelegramID(ctx context.Context, telegramID string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = $1`,
		telegramID,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by telegram id: %w", err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по внутреннему идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// UpdateUserNames обновляет отображаемые имена пользователя.
func (r *PostgresRepository) UpdateUserNames(ctx context.Context, id int64, firstName, lastName string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET first_name = $2, last_name = $3, updated_at = now() WHERE id = $1`,
		id, firstName, lastName,
	)
	if err != nil {
		return fmt.Errorf("update user names: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateUserRole обновляет роль пользователя.
func (r *PostgresRepository) UpdateUserRole(ctx context.Context, id int64, role model.Role) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`,
		id, string(role),
	)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

const addressColumns = `id, user_id, region, city, street, house, entrance, apartment, floor, created_at, updated_at`

func scanAddress(row pgx.Row) (*model.Address, error) {
	var a model.Address
	var region string
	err := row.Scan(&a.ID, &a.UserID, &region, &a.City, &a.Street, &a.House,
		&a.Entrance, &a.Apartment, &a.Floor, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Region = model.Region(region)
	return &a, nil
}

// FindOrCreateAddress возвращает существующий адрес с тем же кортежем полей
// либо создаёт новый. Вставка и повторное чтение выполняются в одной
// транзакции, конкурентные одинаковые запросы схлопываются уникальным
// индексом в одну строку.
func (r *PostgresRepository) FindOrCreateAddress(ctx context.Context, addr model.Address) (*model.Address, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO addresses (user_id, region, city, street, house, entrance, apartment, floor)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, region, city, street, house,
		              COALESCE(entrance, ''), COALESCE(apartment, ''), COALESCE(floor, ''))
		 DO NOTHING`,
		addr.UserID, string(addr.Region), addr.City, addr.Street, addr.House,
		addr.Entrance, addr.Apartment, addr.Floor,
	)
	if err != nil {
		return nil, fmt.Errorf("insert address: %w", err)
	}

	row := tx.QueryRow(ctx,
		`SELECT `+addressColumns+`
		 FROM addresses
		 WHERE user_id = $1 AND region = $2 AND city = $3 AND street = $4 AND house = $5
		   AND COALESCE(entrance, '') = COALESCE($6, '')
		   AND COALESCE(apartment, '') = COALESCE($7, '')
		   AND COALESCE(floor, '') = COALESCE($8, '')`,
		addr.UserID, string(addr.Region), addr.City, addr.Street, addr.House,
		addr.Entrance, addr.Apartment, addr.Floor,
	)

	res, err := scanAddress(row)
	if err != nil {
		return nil, fmt.Errorf("select address: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return res, nil
}

// GetAddressesByUser возвращает адреса пользователя, новые первыми.
func (r *PostgresRepository) GetAddressesByUser(ctx context.Context, userID int64) ([]model.Address, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+addressColumns+`
		 FROM addresses
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select addresses: %w", err)
	}
	defer rows.Close()

	var res []model.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		res = append(res, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const orderColumns = `id, user_id, address_id, bottles, exchange_bottles, total_amount,
	delivery_date, delivery_slot, status, courier_id, comment, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var slot, status string
	err := row.Scan(&o.ID, &o.UserID, &o.AddressID, &o.Bottles, &o.ExchangeBottles, &o.TotalAmount,
		&o.DeliveryDate, &slot, &status, &o.CourierID, &o.Comment, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.DeliverySlot = model.DeliverySlot(slot)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// CreateOrder сохраняет новый заказ и контактный телефон пользователя в
// одной транзакции: при сбое вставки телефон остаётся прежним.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order model.Order, phone string) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE users SET phone = $2, updated_at = now() WHERE id = $1`,
		order.UserID, phone,
	)
	if err != nil {
		return nil, fmt.Errorf("update user phone: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, ErrUserNotFound
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, address_id, bottles, exchange_bottles, total_amount,
		                     delivery_date, delivery_slot, status, comment)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+orderColumns,
		order.UserID, order.AddressID, order.Bottles, order.ExchangeBottles, order.TotalAmount,
		order.DeliveryDate, string(order.DeliverySlot), string(order.Status), order.Comment,
	)

	res, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		id,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders by user: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// GetOrders возвращает все заказы, новые первыми, при необходимости
// отфильтрованные по зоне доставки через адрес.
func (r *PostgresRepository) GetOrders(ctx context.Context, region *model.Region) ([]model.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if region != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT o.id, o.user_id, o.address_id, o.bottles, o.exchange_bottles, o.total_amount,
			        o.delivery_date, o.delivery_slot, o.status, o.courier_id, o.comment, o.created_at, o.updated_at
			 FROM orders o
			 JOIN addresses a ON a.id = o.address_id
			 WHERE a.region = $1
			 ORDER BY o.created_at DESC`,
			string(*region),
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+orderColumns+`
			 FROM orders
			 ORDER BY created_at DESC`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// TakeOrder закрепляет заказ за курьером и возвращает заказ в статусе in_progress.
// Для оператора courierID равен nil: статус сбрасывается без закрепления.
// Строка заказа блокируется, конкурентные вызовы сериализуются, выигрывает
// последний зафиксированный.
func (r *PostgresRepository) TakeOrder(ctx context.Context, orderID int64, courierID *int64) (*model.Order, error) {
	var res *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var dummy int
		err = tx.QueryRow(ctx, `SELECT 1 FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		var row pgx.Row
		if courierID != nil {
			row = tx.QueryRow(ctx,
				`UPDATE orders SET courier_id = $2, status = $3, updated_at = now()
				 WHERE id = $1
				 RETURNING `+orderColumns,
				orderID, *courierID, string(model.OrderStatusInProgress),
			)
		} else {
			row = tx.QueryRow(ctx,
				`UPDATE orders SET status = $2, updated_at = now()
				 WHERE id = $1
				 RETURNING `+orderColumns,
				orderID, string(model.OrderStatusInProgress),
			)
		}

		res, err = scanOrder(row)
		if err != nil {
			return fmt.Errorf("take order: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// UpdateOrderStatus устанавливает статус заказа. Если courierGuard задан,
// обновление разрешено только для незакреплённого заказа или заказа этого
// курьера; иначе возвращается ErrOrderAssignedToAnother. Проверка и запись
// выполняются под блокировкой строки.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, courierGuard *int64) (*model.Order, error) {
	var res *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var assigned *int64
		err = tx.QueryRow(ctx, `SELECT courier_id FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&assigned)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if courierGuard != nil && assigned != nil && *assigned != *courierGuard {
			return ErrOrderAssignedToAnother
		}

		row := tx.QueryRow(ctx,
			`UPDATE orders SET status = $2, updated_at = now()
			 WHERE id = $1
			 RETURNING `+orderColumns,
			orderID, string(status),
		)

		res, err = scanOrder(row)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// GetCitiesByRegion возвращает отсортированный список городов, в которых
// есть хотя бы один заказ в указанной зоне доставки.
func (r *PostgresRepository) GetCitiesByRegion(ctx context.Context, region model.Region) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT a.city
		 FROM orders o
		 JOIN addresses a ON a.id = o.address_id
		 WHERE a.region = $1
		 ORDER BY a.city`,
		string(region),
	)
	if err != nil {
		return nil, fmt.Errorf("select cities: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		res = append(res, city)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
