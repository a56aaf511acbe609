// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/beeper-shop-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже занятым именем или почтой.
var (
	ErrUserExists = errors.New("username or email already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOperatorNotFound возвращается, если оператор не найден.
	ErrOperatorNotFound = errors.New("operator not found")
	// ErrModelNotFound возвращается, если модель бипера не найдена.
	ErrModelNotFound = errors.New("beeper model not found")
	// ErrCartItemNotFound возвращается, если позиция отсутствует в корзине.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrEmptyCart возвращается при попытке оформить покупку с пустой корзиной.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrFavoriteExists возвращается, если модель уже в избранном оператора.
	ErrFavoriteExists = errors.New("favorite already exists")
	// ErrFavoriteNotFound возвращается, если модели нет в избранном оператора.
	ErrFavoriteNotFound = errors.New("favorite not found")
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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlock
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
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя магазина.
func (r *PostgresRepository) CreateUser(ctx context.Context, username, email, passwordHash string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3)
		 RETURNING id, username, email, password_hash, created_at`,
		username, email, passwordHash,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// GetUserByIdentifier возвращает пользователя по имени или почте.
func (r *PostgresRepository) GetUserByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, created_at
		 FROM users
		 WHERE username = $1 OR email = $1`,
		identifier,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateOperator создаёт нового оператора центра управления.
func (r *PostgresRepository) CreateOperator(ctx context.Context, username, passwordHash string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO operators (username, password_hash) VALUES ($1, $2) RETURNING id`,
		username, passwordHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create operator: %w", err)
	}
	return id, nil
}

// GetOperatorByUsername возвращает оператора по имени.
func (r *PostgresRepository) GetOperatorByUsername(ctx context.Context, username string) (*model.Operator, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash FROM operators WHERE username = $1`,
		username,
	)

	var op model.Operator
	err := row.Scan(&op.ID, &op.Username, &op.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}

	return &op, nil
}

// CountOperators возвращает количество операторов.
func (r *PostgresRepository) CountOperators(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operators: %w", err)
	}
	return n, nil
}

// CreateBeeperModel создаёт модель бипера в каталоге.
func (r *PostgresRepository) CreateBeeperModel(ctx context.Context, m model.BeeperModel) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO beeper_models (name, description, price, image_url)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		m.Name, m.Description, m.Price, m.ImageURL,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create beeper model: %w", err)
	}
	return id, nil
}

// GetBeeperModels возвращает все модели каталога, отсортированные по имени.
func (r *PostgresRepository) GetBeeperModels(ctx context.Context) ([]model.BeeperModel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, COALESCE(description, ''), price, COALESCE(image_url, '')
		 FROM beeper_models
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select beeper models: %w", err)
	}
	defer rows.Close()

	var res []model.BeeperModel
	for rows.Next() {
		var m model.BeeperModel
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Price, &m.ImageURL); err != nil {
			return nil, fmt.Errorf("scan beeper model: %w", err)
		}
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetBeeperModelByID возвращает модель бипера по идентификатору.
func (r *PostgresRepository) GetBeeperModelByID(ctx context.Context, id int64) (*model.BeeperModel, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(description, ''), price, COALESCE(image_url, '')
		 FROM beeper_models
		 WHERE id = $1`,
		id,
	)

	var m model.BeeperModel
	err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Price, &m.ImageURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("get beeper model: %w", err)
	}

	return &m, nil
}

// CountBeeperModels возвращает количество моделей в каталоге.
func (r *PostgresRepository) CountBeeperModels(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM beeper_models`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count beeper models: %w", err)
	}
	return n, nil
}

// GetCartItems возвращает корзину пользователя вместе с данными моделей.
func (r *PostgresRepository) GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ci.id, ci.user_id, ci.model_id, ci.quantity, ci.added_at,
		        bm.id, bm.name, COALESCE(bm.description, ''), bm.price, COALESCE(bm.image_url, '')
		 FROM cart_items ci
		 JOIN beeper_models bm ON bm.id = ci.model_id
		 WHERE ci.user_id = $1
		 ORDER BY ci.added_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart items: %w", err)
	}
	defer rows.Close()

	var res []model.CartItem
	for rows.Next() {
		var (
			item model.CartItem
			m    model.BeeperModel
		)
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.ModelID, &item.Quantity, &item.AddedAt,
			&m.ID, &m.Name, &m.Description, &m.Price, &m.ImageURL,
		); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		item.Model = &m
		res = append(res, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AddToCart добавляет модель в корзину пользователя. Если позиция уже есть,
// количество увеличивается.
func (r *PostgresRepository) AddToCart(ctx context.Context, userID, modelID int64, quantity int) (*model.CartItem, error) {
	var item model.CartItem
	err := r.pool.QueryRow(ctx,
		`INSERT INTO cart_items (user_id, model_id, quantity) VALUES ($1, $2, $3)
		 ON CONFLICT ON CONSTRAINT cart_items_user_model_uc
		 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		 RETURNING id, user_id, model_id, quantity, added_at`,
		userID, modelID, quantity,
	).Scan(&item.ID, &item.UserID, &item.ModelID, &item.Quantity, &item.AddedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("upsert cart item: %w", err)
	}
	return &item, nil
}

// SetCartItemQuantity выставляет количество для позиции корзины.
func (r *PostgresRepository) SetCartItemQuantity(ctx context.Context, userID, modelID int64, quantity int) (*model.CartItem, error) {
	var item model.CartItem
	err := r.pool.QueryRow(ctx,
		`UPDATE cart_items SET quantity = $3
		 WHERE user_id = $1 AND model_id = $2
		 RETURNING id, user_id, model_id, quantity, added_at`,
		userID, modelID, quantity,
	).Scan(&item.ID, &item.UserID, &item.ModelID, &item.Quantity, &item.AddedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("update cart item: %w", err)
	}
	return &item, nil
}

// RemoveFromCart удаляет позицию из корзины пользователя.
func (r *PostgresRepository) RemoveFromCart(ctx context.Context, userID, modelID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND model_id = $2`,
		userID, modelID,
	)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

// PurchaseCart оформляет покупку: в одной транзакции для каждой позиции корзины
// создаёт quantity записей о проданных биперах и удаляет позицию. При любой
// ошибке транзакция откатывается целиком — частичных покупок не бывает.
func (r *PostgresRepository) PurchaseCart(ctx context.Context, userID int64) ([]string, int, error) {
	var (
		soldIDs []string
		entries int
	)

	err := r.withRetry(ctx, func() error {
		soldIDs = soldIDs[:0]
		entries = 0

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`SELECT model_id, quantity FROM cart_items WHERE user_id = $1 ORDER BY added_at`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("select cart items: %w", err)
		}

		type cartEntry struct {
			modelID  int64
			quantity int
		}
		var cart []cartEntry
		for rows.Next() {
			var e cartEntry
			if err := rows.Scan(&e.modelID, &e.quantity); err != nil {
				rows.Close()
				return fmt.Errorf("scan cart item: %w", err)
			}
			cart = append(cart, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(cart) == 0 {
			return ErrEmptyCart
		}

		for _, e := range cart {
			for i := 0; i < e.quantity; i++ {
				id := uuid.NewString()
				_, err = tx.Exec(ctx,
					`INSERT INTO sold_beepers (id, model_id, user_id, status)
					 VALUES ($1, $2, $3, $4)`,
					id, e.modelID, userID, string(model.SoldBeeperStatusActive),
				)
				if err != nil {
					return fmt.Errorf("insert sold beeper: %w", err)
				}
				soldIDs = append(soldIDs, id)
			}
		}

		_, err = tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
		if err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		entries = len(cart)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return soldIDs, entries, nil
}

// SoldBeeperFilter описывает необязательные фильтры выборки проданных биперов.
type SoldBeeperFilter struct {
	Status  *model.SoldBeeperStatus
	ModelID *int64
	UserID  *int64
}

// GetSoldBeepers возвращает проданные биперы вместе с именем модели,
// новые первыми. Фильтры применяются, если заданы.
func (r *PostgresRepository) GetSoldBeepers(ctx context.Context, filter SoldBeeperFilter) ([]model.SoldBeeper, error) {
	query := `SELECT sb.id, sb.model_id, bm.name, sb.user_id, sb.purchase_timestamp, sb.status
	          FROM sold_beepers sb
	          JOIN beeper_models bm ON bm.id = sb.model_id
	          WHERE ($1::text IS NULL OR sb.status = $1)
	            AND ($2::bigint IS NULL OR sb.model_id = $2)
	            AND ($3::bigint IS NULL OR sb.user_id = $3)
	          ORDER BY sb.purchase_timestamp DESC`

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.pool.Query(ctx, query, status, filter.ModelID, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("select sold beepers: %w", err)
	}
	defer rows.Close()

	var res []model.SoldBeeper
	for rows.Next() {
		var (
			sb     model.SoldBeeper
			status string
		)
		if err := rows.Scan(&sb.ID, &sb.ModelID, &sb.ModelName, &sb.UserID, &sb.PurchaseTimestamp, &status); err != nil {
			return nil, fmt.Errorf("scan sold beeper: %w", err)
		}
		sb.Status = model.SoldBeeperStatus(status)
		res = append(res, sb)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetSoldBeeperStatuses возвращает статусы проданных биперов по набору
// идентификаторов одной выборкой. Отсутствующих идентификаторов в результате нет.
func (r *PostgresRepository) GetSoldBeeperStatuses(ctx context.Context, ids []string) (map[string]model.SoldBeeperStatus, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, status FROM sold_beepers WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select sold beeper statuses: %w", err)
	}
	defer rows.Close()

	res := make(map[string]model.SoldBeeperStatus, len(ids))
	for rows.Next() {
		var (
			id     string
			status string
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan sold beeper status: %w", err)
		}
		res[id] = model.SoldBeeperStatus(status)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkActivated переводит перечисленные биперы из active в activated одной
// транзакцией. Биперы, уже активированные к этому моменту, не трогаются.
func (r *PostgresRepository) MarkActivated(ctx context.Context, ids []string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`UPDATE sold_beepers SET status = $1 WHERE id = ANY($2) AND status = $3`,
			string(model.SoldBeeperStatusActivated), ids, string(model.SoldBeeperStatusActive),
		)
		if err != nil {
			return fmt.Errorf("update sold beepers: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetFavoriteModelIDs возвращает идентификаторы избранных моделей оператора.
func (r *PostgresRepository) GetFavoriteModelIDs(ctx context.Context, operatorID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT model_id FROM operator_favorites WHERE operator_id = $1 ORDER BY id`,
		operatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("select favorites: %w", err)
	}
	defer rows.Close()

	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AddFavorite добавляет модель в избранное оператора.
func (r *PostgresRepository) AddFavorite(ctx context.Context, operatorID, modelID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO operator_favorites (operator_id, model_id) VALUES ($1, $2)`,
		operatorID, modelID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return ErrFavoriteExists
			case pgerrcode.ForeignKeyViolation:
				return ErrModelNotFound
			}
		}
		return fmt.Errorf("insert favorite: %w", err)
	}
	return nil
}

// DeleteFavorite удаляет модель из избранного оператора.
func (r *PostgresRepository) DeleteFavorite(ctx context.Context, operatorID, modelID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM operator_favorites WHERE operator_id = $1 AND model_id = $2`,
		operatorID, modelID,
	)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrFavoriteNotFound
	}
	return nil
}
