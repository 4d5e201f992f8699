// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/renthome-system/internal/billing"
	"github.com/mmeshcher/renthome-system/internal/model"
	"github.com/mmeshcher/renthome-system/internal/money"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим телефоном.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrHouseNotFound возвращается, если дом не найден.
	ErrHouseNotFound = errors.New("house not found")
	// ErrTenantNotFound возвращается, если жилец не найден.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrPaymentNotFound возвращается, если запись оплаты не найдена.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrHouseNotAvailable возвращается при попытке заселить уже занятый
	// или находящийся на обслуживании дом.
	ErrHouseNotAvailable = errors.New("house is not available")
	// ErrTenantExists возвращается при попытке создать жильца с уже существующим телефоном.
	ErrTenantExists = errors.New("tenant already exists")
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

// withRetry повторяет транзакцию при конфликте сериализации или дедлоке.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, phone, name string, passwordHash []byte, role model.UserRole) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (phone, name, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING id`,
		phone, name, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, phone)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, phone, password_hash, name, role, COALESCE(refresh_token, ''), refresh_token_expires, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Phone, &u.PasswordHash, &u.Name, &role, &u.RefreshToken, &u.RefreshTokenExpires, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = model.UserRole(role)
	return &u, nil
}

// GetUserByPhone возвращает пользователя по номеру телефона.
func (r *PostgresRepository) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone = $1`, phone,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UpdateRefreshToken сохраняет новый refresh-токен пользователя.
func (r *PostgresRepository) UpdateRefreshToken(ctx context.Context, userID int64, token string, expires time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET refresh_token = $2, refresh_token_expires = $3 WHERE id = $1`,
		userID, token, expires,
	)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

const houseColumns = `id, title, address, base_rent, water_rate, electricity_rate,
	initial_water_reading, initial_electricity_reading, area, status, description, created_at`

func scanHouse(row pgx.Row) (*model.House, error) {
	var (
		h                                            model.House
		baseRent, waterRate, electricityRate         int64
		initialWater, initialElectricity, areaScaled int64
		status                                       string
	)
	err := row.Scan(&h.ID, &h.Title, &h.Address, &baseRent, &waterRate, &electricityRate,
		&initialWater, &initialElectricity, &areaScaled, &status, &h.Description, &h.CreatedAt)
	if err != nil {
		return nil, err
	}

	h.BaseRent = money.FromCents(baseRent)
	h.WaterRate = money.FromCents(waterRate)
	h.ElectricityRate = money.FromCents(electricityRate)
	h.InitialWaterReading = money.FromCents(initialWater)
	h.InitialElectricityReading = money.FromCents(initialElectricity)
	h.Area = money.FromCents(areaScaled)
	h.Status = model.HouseStatus(status)
	return &h, nil
}

// CreateHouse сохраняет новый дом и возвращает его идентификатор.
func (r *PostgresRepository) CreateHouse(ctx context.Context, h *model.House) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO houses (title, address, base_rent, water_rate, electricity_rate,
			initial_water_reading, initial_electricity_reading, area, status, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		h.Title, h.Address,
		money.ToCents(h.BaseRent), money.ToCents(h.WaterRate), money.ToCents(h.ElectricityRate),
		money.ToCents(h.InitialWaterReading), money.ToCents(h.InitialElectricityReading),
		money.ToCents(h.Area), string(h.Status), h.Description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create house: %w", err)
	}
	return id, nil
}

// GetHouseByID возвращает дом по идентификатору.
func (r *PostgresRepository) GetHouseByID(ctx context.Context, id int64) (*model.House, error) {
	h, err := scanHouse(r.pool.QueryRow(ctx,
		`SELECT `+houseColumns+` FROM houses WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHouseNotFound
		}
		return nil, fmt.Errorf("get house: %w", err)
	}
	return h, nil
}

// ListHouses возвращает все дома.
func (r *PostgresRepository) ListHouses(ctx context.Context) ([]model.House, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+houseColumns+` FROM houses ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select houses: %w", err)
	}
	defer rows.Close()

	var houses []model.House
	for rows.Next() {
		h, err := scanHouse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan house: %w", err)
		}
		houses = append(houses, *h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return houses, nil
}

// UpdateHouse обновляет атрибуты дома.
func (r *PostgresRepository) UpdateHouse(ctx context.Context, h *model.House) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE houses SET title = $2, address = $3, base_rent = $4, water_rate = $5,
			electricity_rate = $6, initial_water_reading = $7, initial_electricity_reading = $8,
			area = $9, status = $10, description = $11
		 WHERE id = $1`,
		h.ID, h.Title, h.Address,
		money.ToCents(h.BaseRent), money.ToCents(h.WaterRate), money.ToCents(h.ElectricityRate),
		money.ToCents(h.InitialWaterReading), money.ToCents(h.InitialElectricityReading),
		money.ToCents(h.Area), string(h.Status), h.Description,
	)
	if err != nil {
		return fmt.Errorf("update house: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrHouseNotFound
	}
	return nil
}

// UpdateHouseStatus изменяет статус занятости дома.
func (r *PostgresRepository) UpdateHouseStatus(ctx context.Context, id int64, status model.HouseStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE houses SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update house status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrHouseNotFound
	}
	return nil
}

// DeleteHouse удаляет дом.
func (r *PostgresRepository) DeleteHouse(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM houses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete house: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrHouseNotFound
	}
	return nil
}

const tenantColumns = `id, name, phone, email, id_card, start_date, end_date, house_id, created_at`

func scanTenant(row pgx.Row) (*model.Tenant, error) {
	var t model.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Phone, &t.Email, &t.IDCard,
		&t.StartDate, &t.EndDate, &t.HouseID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// lockHouseStatus блокирует строку дома до конца транзакции и возвращает его статус.
func lockHouseStatus(ctx context.Context, tx pgx.Tx, houseID int64) (model.HouseStatus, error) {
	var status string
	err := tx.QueryRow(ctx,
		`SELECT status FROM houses WHERE id = $1 FOR UPDATE`, houseID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrHouseNotFound
		}
		return "", fmt.Errorf("lock house: %w", err)
	}
	return model.HouseStatus(status), nil
}

// CreateTenant сохраняет нового жильца. Если указан дом, заселение выполняется
// в одной транзакции: дом блокируется, проверяется его доступность и статус
// переводится в rented.
func (r *PostgresRepository) CreateTenant(ctx context.Context, t *model.Tenant) (int64, error) {
	var id int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if t.HouseID != nil {
			status, err := lockHouseStatus(ctx, tx, *t.HouseID)
			if err != nil {
				return err
			}
			if status != model.HouseStatusAvailable {
				return fmt.Errorf("%w: house %d is %s", ErrHouseNotAvailable, *t.HouseID, status)
			}
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO tenants (name, phone, email, id_card, start_date, end_date, house_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			t.Name, t.Phone, t.Email, t.IDCard, t.StartDate, t.EndDate, t.HouseID,
		).Scan(&id)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrTenantExists, t.Phone)
			}
			return fmt.Errorf("insert tenant: %w", err)
		}

		if t.HouseID != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE houses SET status = $2 WHERE id = $1`,
				*t.HouseID, string(model.HouseStatusRented),
			); err != nil {
				return fmt.Errorf("mark house rented: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// GetTenantByID возвращает жильца по идентификатору.
func (r *PostgresRepository) GetTenantByID(ctx context.Context, id int64) (*model.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// GetTenantByPhone возвращает жильца по номеру телефона.
func (r *PostgresRepository) GetTenantByPhone(ctx context.Context, phone string) (*model.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE phone = $1`, phone,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// GetActiveTenantForHouse возвращает жильца, заселённого в дом,
// либо nil, если дом свободен.
func (r *PostgresRepository) GetActiveTenantForHouse(ctx context.Context, houseID int64) (*model.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE house_id = $1`, houseID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active tenant: %w", err)
	}
	return t, nil
}

// ListTenants возвращает всех жильцов.
func (r *PostgresRepository) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select tenants: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tenants, nil
}

// UpdateTenant обновляет данные жильца. Перепривязка к другому дому
// выполняется в одной транзакции: прежний дом освобождается, новый
// блокируется, проверяется и помечается занятым.
func (r *PostgresRepository) UpdateTenant(ctx context.Context, t *model.Tenant) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var currentHouseID *int64
		err = tx.QueryRow(ctx,
			`SELECT house_id FROM tenants WHERE id = $1 FOR UPDATE`, t.ID,
		).Scan(&currentHouseID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTenantNotFound
			}
			return fmt.Errorf("lock tenant: %w", err)
		}

		sameHouse := currentHouseID != nil && t.HouseID != nil && *currentHouseID == *t.HouseID ||
			currentHouseID == nil && t.HouseID == nil

		if !sameHouse {
			if currentHouseID != nil {
				if _, err := tx.Exec(ctx,
					`UPDATE houses SET status = $2 WHERE id = $1`,
					*currentHouseID, string(model.HouseStatusAvailable),
				); err != nil {
					return fmt.Errorf("release house: %w", err)
				}
			}
			if t.HouseID != nil {
				status, err := lockHouseStatus(ctx, tx, *t.HouseID)
				if err != nil {
					return err
				}
				if status != model.HouseStatusAvailable {
					return fmt.Errorf("%w: house %d is %s", ErrHouseNotAvailable, *t.HouseID, status)
				}
				if _, err := tx.Exec(ctx,
					`UPDATE houses SET status = $2 WHERE id = $1`,
					*t.HouseID, string(model.HouseStatusRented),
				); err != nil {
					return fmt.Errorf("mark house rented: %w", err)
				}
			}
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE tenants SET name = $2, phone = $3, email = $4, id_card = $5,
				start_date = $6, end_date = $7, house_id = $8
			 WHERE id = $1`,
			t.ID, t.Name, t.Phone, t.Email, t.IDCard, t.StartDate, t.EndDate, t.HouseID,
		)
		if err != nil {
			return fmt.Errorf("update tenant: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrTenantNotFound
		}

		return tx.Commit(ctx)
	})
}

// DeleteTenant удаляет жильца и освобождает его дом.
func (r *PostgresRepository) DeleteTenant(ctx context.Context, id int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var houseID *int64
		err = tx.QueryRow(ctx,
			`DELETE FROM tenants WHERE id = $1 RETURNING house_id`, id,
		).Scan(&houseID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTenantNotFound
			}
			return fmt.Errorf("delete tenant: %w", err)
		}

		if houseID != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE houses SET status = $2 WHERE id = $1`,
				*houseID, string(model.HouseStatusAvailable),
			); err != nil {
				return fmt.Errorf("release house: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
}

const paymentColumns = `id, house_id, tenant_id, amount, base_rent, water_usage, electricity_usage,
	previous_water_usage, previous_electricity_usage, balance, remark, period_start, period_end, created_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p                               model.Payment
		amount, baseRent                int64
		waterUsage, electricityUsage    int64
		prevWater, prevElectricity, bal int64
	)
	err := row.Scan(&p.ID, &p.HouseID, &p.TenantID, &amount, &baseRent,
		&waterUsage, &electricityUsage, &prevWater, &prevElectricity, &bal,
		&p.Remark, &p.PeriodStart, &p.PeriodEnd, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.Amount = money.FromCents(amount)
	p.BaseRent = money.FromCents(baseRent)
	p.WaterUsage = money.FromCents(waterUsage)
	p.ElectricityUsage = money.FromCents(electricityUsage)
	p.PreviousWaterUsage = money.FromCents(prevWater)
	p.PreviousElectricityUsage = money.FromCents(prevElectricity)
	p.Balance = money.FromCents(bal)
	return &p, nil
}

func getLastPaymentTx(ctx context.Context, tx pgx.Tx, houseID int64) (*model.Payment, error) {
	p, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE house_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		houseID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last payment: %w", err)
	}
	return p, nil
}

// CreatePayment формирует и сохраняет запись оплаты в одной транзакции.
// Строка дома блокируется, поэтому параллельные оплаты по одному дому
// сериализуются и не читают устаревший баланс или показания.
func (r *PostgresRepository) CreatePayment(ctx context.Context, houseID int64, in billing.PaymentInput) (*model.Payment, error) {
	var payment *model.Payment

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		house, err := scanHouse(tx.QueryRow(ctx,
			`SELECT `+houseColumns+` FROM houses WHERE id = $1 FOR UPDATE`, houseID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrHouseNotFound
			}
			return fmt.Errorf("lock house: %w", err)
		}

		var tenant *model.Tenant
		t, err := scanTenant(tx.QueryRow(ctx,
			`SELECT `+tenantColumns+` FROM tenants WHERE house_id = $1`, houseID,
		))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("get active tenant: %w", err)
		}
		if err == nil {
			tenant = t
		}

		last, err := getLastPaymentTx(ctx, tx, houseID)
		if err != nil {
			return err
		}

		p, err := billing.BuildPayment(house, tenant, last, in)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO payments (house_id, tenant_id, amount, base_rent, water_usage,
				electricity_usage, previous_water_usage, previous_electricity_usage,
				balance, remark, period_start, period_end)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 RETURNING id, created_at`,
			p.HouseID, p.TenantID,
			money.ToCents(p.Amount), money.ToCents(p.BaseRent),
			money.ToCents(p.WaterUsage), money.ToCents(p.ElectricityUsage),
			money.ToCents(p.PreviousWaterUsage), money.ToCents(p.PreviousElectricityUsage),
			money.ToCents(p.Balance), p.Remark, p.PeriodStart, p.PeriodEnd,
		).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// GetPaymentByID возвращает запись оплаты по идентификатору.
func (r *PostgresRepository) GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) listPayments(ctx context.Context, query string, args ...any) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return payments, nil
}

// ListPaymentsByHouse возвращает историю оплат по дому, новые записи первыми.
// Если указан tenantID, возвращаются только оплаты этого жильца.
func (r *PostgresRepository) ListPaymentsByHouse(ctx context.Context, houseID int64, tenantID *int64) ([]model.Payment, error) {
	if tenantID != nil {
		return r.listPayments(ctx,
			`SELECT `+paymentColumns+` FROM payments
			 WHERE house_id = $1 AND tenant_id = $2
			 ORDER BY created_at DESC, id DESC`,
			houseID, *tenantID,
		)
	}
	return r.listPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE house_id = $1
		 ORDER BY created_at DESC, id DESC`,
		houseID,
	)
}

// ListPaymentsByTenant возвращает историю оплат жильца, новые записи первыми.
func (r *PostgresRepository) ListPaymentsByTenant(ctx context.Context, tenantID int64) ([]model.Payment, error) {
	return r.listPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC, id DESC`,
		tenantID,
	)
}

// GetLastPaymentForHouse возвращает последнюю оплату по дому либо nil.
func (r *PostgresRepository) GetLastPaymentForHouse(ctx context.Context, houseID int64) (*model.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE house_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		houseID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last payment: %w", err)
	}
	return p, nil
}

// UpdatePayment перезаписывает редактируемые поля записи оплаты.
// Балансы зависимых записей не пересчитываются.
func (r *PostgresRepository) UpdatePayment(ctx context.Context, p *model.Payment) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payments SET amount = $2, water_usage = $3, electricity_usage = $4,
			remark = $5, period_start = $6, period_end = $7
		 WHERE id = $1`,
		p.ID, money.ToCents(p.Amount),
		money.ToCents(p.WaterUsage), money.ToCents(p.ElectricityUsage),
		p.Remark, p.PeriodStart, p.PeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// DeletePayment удаляет запись оплаты. Операция только административная,
// автоматических удалений нет.
func (r *PostgresRepository) DeletePayment(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// GetStatistics возвращает сводные показатели. Дом с жильцом считается
// занятым независимо от поля статуса.
func (r *PostgresRepository) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	var s model.Statistics

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE t.id IS NULL AND h.status = 'available'),
			COUNT(*) FILTER (WHERE t.id IS NOT NULL OR h.status = 'rented'),
			COUNT(*) FILTER (WHERE t.id IS NULL AND h.status = 'maintenance')
		 FROM houses h
		 LEFT JOIN tenants t ON t.house_id = h.id`,
	).Scan(&s.TotalHouses, &s.AvailableHouses, &s.RentedHouses, &s.MaintenanceHouses)
	if err != nil {
		return nil, fmt.Errorf("count houses: %w", err)
	}

	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&s.TotalTenants)
	if err != nil {
		return nil, fmt.Errorf("count tenants: %w", err)
	}

	var incomeCents int64
	err = r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments`).Scan(&incomeCents)
	if err != nil {
		return nil, fmt.Errorf("sum income: %w", err)
	}
	s.TotalIncome = money.FromCents(incomeCents)

	return &s, nil
}

// GetMonthlyStatistics возвращает поступления за период [from, to).
func (r *PostgresRepository) GetMonthlyStatistics(ctx context.Context, from, to time.Time) (*model.MonthlyStatistics, error) {
	var totalCents, rentCents int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0), COALESCE(SUM(base_rent), 0)
		 FROM payments
		 WHERE created_at >= $1 AND created_at < $2`,
		from, to,
	).Scan(&totalCents, &rentCents)
	if err != nil {
		return nil, fmt.Errorf("sum monthly payments: %w", err)
	}

	total := money.FromCents(totalCents)
	rent := money.FromCents(rentCents)

	utility := total.Sub(rent)
	if utility.IsNegative() {
		utility = decimal.Zero
	}

	return &model.MonthlyStatistics{
		MonthlyIncome: total,
		RentIncome:    rent,
		UtilityIncome: utility,
	}, nil
}
