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

	"github.com/mmeshcher/jobboard-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAccountExists возвращается при попытке создать аккаунт с уже существующим логином.
var (
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound возвращается, если аккаунт не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrPostingNotFound возвращается, если вакансия не найдена.
	ErrPostingNotFound = errors.New("posting not found")
	// ErrPaymentNotFound возвращается, если платёжная транзакция не найдена.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrStaleState возвращается, когда условное обновление не нашло строку в
	// ожидаемом состоянии: состояние изменил конкурирующий запрос.
	ErrStaleState = errors.New("entity state changed concurrently")
	// ErrDuplicateApplication возвращается при повторном отклике на ту же вакансию.
	ErrDuplicateApplication = errors.New("application already submitted")
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

// withRetry повторяет транзакционные операции при ошибках сериализации и
// дедлоках. Прочие ошибки возвращаются сразу.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateAccount создаёт новый аккаунт с невыбранной ролью.
func (r *PostgresRepository) CreateAccount(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrAccountExists, login)
		}
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// GetAccountByLogin возвращает аккаунт по логину.
func (r *PostgresRepository) GetAccountByLogin(ctx context.Context, login string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM accounts WHERE login = $1`,
		login,
	)
	return scanAccount(row)
}

// GetAccountByID возвращает аккаунт по идентификатору.
func (r *PostgresRepository) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM accounts WHERE id = $1`,
		id,
	)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var role string
	err := row.Scan(&a.ID, &a.Login, &a.PasswordHash, &role, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.Role = model.Role(role)
	return &a, nil
}

// SetAccountRole устанавливает роль аккаунта.
func (r *PostgresRepository) SetAccountRole(ctx context.Context, id int64, role model.Role) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET role = $2 WHERE id = $1`,
		id, string(role),
	)
	if err != nil {
		return fmt.Errorf("set account role: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

const postingColumns = `id, account_id, title, description, city, salary_from, salary_to,
	plan, addons, status, featured, expires_at, created_at, updated_at`

// CreatePosting сохраняет черновик вакансии и возвращает его идентификатор.
func (r *PostgresRepository) CreatePosting(ctx context.Context, p *model.Posting) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO postings (account_id, title, description, city, salary_from, salary_to, plan, addons, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		p.AccountID, p.Title, p.Description, p.City, p.SalaryFrom, p.SalaryTo,
		p.Plan, p.Addons, string(model.PostingStatusDraft),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert posting: %w", err)
	}
	return id, nil
}

// GetPostingByID возвращает вакансию по идентификатору.
func (r *PostgresRepository) GetPostingByID(ctx context.Context, id int64) (*model.Posting, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+postingColumns+` FROM postings WHERE id = $1`,
		id,
	)

	p, err := scanPosting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPostingNotFound
		}
		return nil, fmt.Errorf("get posting: %w", err)
	}
	return p, nil
}

// GetPostingsByAccount возвращает все вакансии работодателя, включая
// черновики, истёкшие и закрытые.
func (r *PostgresRepository) GetPostingsByAccount(ctx context.Context, accountID int64) ([]model.Posting, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+postingColumns+`
		 FROM postings
		 WHERE account_id = $1
		 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select postings: %w", err)
	}
	defer rows.Close()

	return collectPostings(rows)
}

// GetActivePostings возвращает активные вакансии на момент now. Просроченные
// строки отфильтровываются условием запроса, поэтому путь чтения никогда не
// отдаёт вакансию как активную после expires_at, даже до срабатывания очистки.
func (r *PostgresRepository) GetActivePostings(ctx context.Context, now time.Time) ([]model.Posting, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+postingColumns+`
		 FROM postings
		 WHERE status = $1 AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY created_at DESC`,
		string(model.PostingStatusActive), now,
	)
	if err != nil {
		return nil, fmt.Errorf("select active postings: %w", err)
	}
	defer rows.Close()

	return collectPostings(rows)
}

func scanPosting(row pgx.Row) (*model.Posting, error) {
	var p model.Posting
	var status string
	err := row.Scan(
		&p.ID, &p.AccountID, &p.Title, &p.Description, &p.City,
		&p.SalaryFrom, &p.SalaryTo, &p.Plan, &p.Addons,
		&status, &p.Featured, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.PostingStatus(status)
	return &p, nil
}

func collectPostings(rows pgx.Rows) ([]model.Posting, error) {
	var res []model.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdatePostingState выполняет условный переход состояния вакансии: строка
// обновляется, только если её текущий статус равен from. Несовпадение означает
// конкурирующее изменение и возвращается как ErrStaleState.
func (r *PostgresRepository) UpdatePostingState(ctx context.Context, id int64, from, to model.PostingStatus, featured bool, updatedAt time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE postings SET status = $3, featured = $4, updated_at = $5
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), featured, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update posting state: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// ExpireOverdue переводит все активные вакансии с наступившим сроком в статус
// expired и снимает с них приоритетное размещение. Возвращает число строк.
func (r *PostgresRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE postings SET status = $1, featured = FALSE, updated_at = $2
		 WHERE status = $3 AND expires_at IS NOT NULL AND expires_at <= $2`,
		string(model.PostingStatusExpired), now, string(model.PostingStatusActive),
	)
	if err != nil {
		return 0, fmt.Errorf("expire overdue postings: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// CreatePayment сохраняет платёжную транзакцию для вакансии. Частичный
// уникальный индекс допускает не более одной pending-транзакции на вакансию:
// при конфликте возвращается уже существующая, если её котировка совпадает,
// иначе устаревшая транзакция аннулируется и создаётся новая.
func (r *PostgresRepository) CreatePayment(ctx context.Context, pay *model.Payment) (*model.Payment, error) {
	var result *model.Payment

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		inserted, err := insertPayment(ctx, tx, pay)
		if err == nil {
			result = inserted
			return tx.Commit(ctx)
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
			return err
		}

		// Уже есть pending-транзакция для этой вакансии.
		existing, err := getPendingPayment(ctx, tx, pay.PostingID)
		if err != nil {
			return err
		}

		if existing.AmountMinor == pay.AmountMinor {
			result = existing
			return tx.Commit(ctx)
		}

		// Котировка разошлась (каталог цен изменился между попытками):
		// старая транзакция аннулируется, новая становится авторитетной.
		_, err = tx.Exec(ctx,
			`UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
			existing.ID, string(model.PaymentStatusFailed), pay.CreatedAt, string(model.PaymentStatusPending),
		)
		if err != nil {
			return fmt.Errorf("supersede payment: %w", err)
		}

		inserted, err = insertPayment(ctx, tx, pay)
		if err != nil {
			return fmt.Errorf("insert superseding payment: %w", err)
		}
		result = inserted

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func insertPayment(ctx context.Context, tx pgx.Tx, pay *model.Payment) (*model.Payment, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO payments (id, posting_id, amount, currency, plan, addons, status, client_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING id, posting_id, amount, currency, plan, addons, status, client_token, created_at, updated_at`,
		pay.ID, pay.PostingID, pay.AmountMinor, pay.Currency, pay.Plan, pay.Addons,
		string(pay.Status), pay.ClientToken, pay.CreatedAt,
	)
	return scanPayment(row)
}

func getPendingPayment(ctx context.Context, tx pgx.Tx, postingID int64) (*model.Payment, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, posting_id, amount, currency, plan, addons, status, client_token, created_at, updated_at
		 FROM payments
		 WHERE posting_id = $1 AND status = $2
		 FOR UPDATE`,
		postingID, string(model.PaymentStatusPending),
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("select pending payment: %w", err)
	}
	return p, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	var status string
	err := row.Scan(
		&p.ID, &p.PostingID, &p.AmountMinor, &p.Currency, &p.Plan, &p.Addons,
		&status, &p.ClientToken, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

// GetPendingPaymentByPosting возвращает незавершённую транзакцию вакансии,
// если она есть. Используется для повторного предъявления уже открытой
// котировки без обращения к платёжной системе.
func (r *PostgresRepository) GetPendingPaymentByPosting(ctx context.Context, postingID int64) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, posting_id, amount, currency, plan, addons, status, client_token, created_at, updated_at
		 FROM payments
		 WHERE posting_id = $1 AND status = $2`,
		postingID, string(model.PaymentStatusPending),
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("select pending payment: %w", err)
	}
	return p, nil
}

// UpdateDraftPlan обновляет тариф и дополнения черновика перед публикацией.
func (r *PostgresRepository) UpdateDraftPlan(ctx context.Context, id int64, plan string, addons []string, now time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE postings SET plan = $2, addons = $3, updated_at = $4
		 WHERE id = $1 AND status = $5`,
		id, plan, addons, now, string(model.PostingStatusDraft),
	)
	if err != nil {
		return fmt.Errorf("update draft plan: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// GetPaymentByID возвращает платёжную транзакцию по идентификатору.
func (r *PostgresRepository) GetPaymentByID(ctx context.Context, id string) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, posting_id, amount, currency, plan, addons, status, client_token, created_at, updated_at
		 FROM payments WHERE id = $1`,
		id,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// MarkPaymentFailed переводит pending-транзакцию в статус failed.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, id string, now time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		id, string(model.PaymentStatusFailed), now, string(model.PaymentStatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// CompletePaymentAndActivate атомарно фиксирует успех платежа и активирует
// вакансию. Оба обновления условные: платёж должен быть pending, вакансия —
// черновиком. Если конкурирующее подтверждение уже выполнило работу, вызов
// завершается успешно без изменений.
func (r *PostgresRepository) CompletePaymentAndActivate(ctx context.Context, paymentID string, p *model.Posting) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		payTag, err := tx.Exec(ctx,
			`UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
			paymentID, string(model.PaymentStatusSucceeded), p.UpdatedAt, string(model.PaymentStatusPending),
		)
		if err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}

		if payTag.RowsAffected() == 0 {
			// Конкурирующее подтверждение могло успеть раньше. Успех
			// засчитывается, только если итог совпадает.
			var status string
			err := tx.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, paymentID).Scan(&status)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrPaymentNotFound
				}
				return fmt.Errorf("check payment status: %w", err)
			}
			if model.PaymentStatus(status) != model.PaymentStatusSucceeded {
				return ErrStaleState
			}
			return tx.Commit(ctx)
		}

		postTag, err := tx.Exec(ctx,
			`UPDATE postings SET status = $2, featured = $3, expires_at = $4, created_at = $5, updated_at = $5
			 WHERE id = $1 AND status = $6`,
			p.ID, string(model.PostingStatusActive), p.Featured, p.ExpiresAt, p.UpdatedAt,
			string(model.PostingStatusDraft),
		)
		if err != nil {
			return fmt.Errorf("activate posting: %w", err)
		}
		if postTag.RowsAffected() == 0 {
			return ErrStaleState
		}

		return tx.Commit(ctx)
	})
}

// ActivateFreePosting активирует вакансию по бесплатному тарифу и фиксирует
// транзакцию со статусом not_required в той же транзакции БД.
func (r *PostgresRepository) ActivateFreePosting(ctx context.Context, pay *model.Payment, p *model.Posting) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := insertPayment(ctx, tx, pay); err != nil {
			return fmt.Errorf("insert free payment: %w", err)
		}

		postTag, err := tx.Exec(ctx,
			`UPDATE postings SET status = $2, featured = $3, expires_at = $4, created_at = $5, updated_at = $5
			 WHERE id = $1 AND status = $6`,
			p.ID, string(model.PostingStatusActive), p.Featured, p.ExpiresAt, p.UpdatedAt,
			string(model.PostingStatusDraft),
		)
		if err != nil {
			return fmt.Errorf("activate posting: %w", err)
		}
		if postTag.RowsAffected() == 0 {
			return ErrStaleState
		}

		return tx.Commit(ctx)
	})
}

// FailStalePayments помечает провалившимися pending-транзакции, созданные
// раньше порога. Брошенный платёжный поток не может позже молча активировать
// вакансию: после порога требуется новая котировка.
func (r *PostgresRepository) FailStalePayments(ctx context.Context, olderThan, now time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = $2
		 WHERE status = $3 AND created_at < $4`,
		string(model.PaymentStatusFailed), now, string(model.PaymentStatusPending), olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale payments: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// CreateApplication сохраняет отклик соискателя на вакансию.
func (r *PostgresRepository) CreateApplication(ctx context.Context, a *model.Application) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO applications (posting_id, account_id, cover_note) VALUES ($1, $2, $3) RETURNING id`,
		a.PostingID, a.AccountID, a.CoverNote,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, ErrDuplicateApplication
		}
		return 0, fmt.Errorf("create application: %w", err)
	}
	return id, nil
}

// GetApplicationsByAccount возвращает отклики соискателя, новые первыми.
func (r *PostgresRepository) GetApplicationsByAccount(ctx context.Context, accountID int64) ([]model.Application, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, posting_id, account_id, cover_note, created_at
		 FROM applications
		 WHERE account_id = $1
		 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select applications: %w", err)
	}
	defer rows.Close()

	var res []model.Application
	for rows.Next() {
		var a model.Application
		if err := rows.Scan(&a.ID, &a.PostingID, &a.AccountID, &a.CoverNote, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
