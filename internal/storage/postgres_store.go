package storage

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"

	_ "github.com/lib/pq"

	"github.com/example/roadside-assist/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.ServiceRequest) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO service_requests(id, service_type, shop_id, service_id, description, status, final_price, liters, payment_method, rating, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET status=$6, final_price=$7, liters=$8, payment_method=$9, rating=$10, updated_at=$12`,
		r.ID, r.ServiceType, r.ShopID, r.ServiceID, r.Description, r.Status, r.FinalPrice, r.Liters, paymentMethod(r), stars(r), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	if err := recordTransition(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, r *models.ServiceRequest) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE service_requests SET status=$1, final_price=$2, liters=$3, payment_method=$4, rating=$5, updated_at=$6 WHERE id=$7`,
		r.Status, r.FinalPrice, r.Liters, paymentMethod(r), stars(r), r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return p.SaveRequest(ctx, r)
	}
	if err := recordTransition(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

// recordTransition appends a history row when the status differs from the
// last one recorded.
func recordTransition(ctx context.Context, tx *sql.Tx, r *models.ServiceRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO request_transitions(request_id, status, observed_at)
		SELECT $1, $2, $3 WHERE NOT EXISTS (
			SELECT 1 FROM request_transitions WHERE request_id=$1 AND status=$2
		)`, r.ID, r.Status, r.UpdatedAt)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func paymentMethod(r *models.ServiceRequest) sql.NullString {
	if r.Payment == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: r.Payment.Method, Valid: true}
}

func stars(r *models.ServiceRequest) sql.NullInt64 {
	if r.Rating == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(r.Rating.Stars), Valid: true}
}
