package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicate        = errors.New("duplicate record")
	ErrNotFound         = errors.New("record not found")
	ErrRelationNotExist = errors.New("referenced record does not exist")
)

// Postgres integrity constraint violations, see github.com/jackc/pgerrcode.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Repository[T any] interface {
	Create(ctx context.Context, entity *T) error
	// Upsert inserts entity or, on conflict of the given columns, updates updateColumns.
	Upsert(ctx context.Context, entity *T, conflictColumns []string, updateColumns []string) error
	Find(ctx context.Context, options FindOptions) ([]*T, error)
	FindOne(ctx context.Context, options FindOptions) (*T, error)
	Count(ctx context.Context, options FindOptions) (int64, error)
}

type repository[T any] struct {
	db *gorm.DB
}

func NewRepository[T any](db *gorm.DB) Repository[T] {
	return &repository[T]{db: db}
}

// mapError turns constraint violations into sentinel errors and keeps everything else wrapped.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrDuplicate, pgErr.ConstraintName)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrRelationNotExist, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (o FindOptions) apply(db *gorm.DB) *gorm.DB {
	if len(o.Select) > 0 && !(len(o.Select) == 1 && o.Select[0] == "*") {
		db = db.Select(strings.Join(o.Select, ","))
	}
	if o.Where != nil {
		db = db.Where(map[string]any(o.Where))
	}
	if clauses := o.Order.clauses(); len(clauses) > 0 {
		db = db.Order(strings.Join(clauses, ", "))
	}
	if o.Limit != 0 {
		db = db.Limit(int(o.Limit))
	}
	if o.Offset != 0 {
		db = db.Offset(int(o.Offset))
	}
	return db
}

// clauses renders the order in a stable column order.
func (o Order) clauses() []string {
	fields := make([]string, 0, len(o))
	for f := range o {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f + " " + string(o[f])
	}
	return out
}

func (r *repository[T]) Create(ctx context.Context, entity *T) error {
	return mapError("create", r.db.WithContext(ctx).Create(entity).Error)
}

func (r *repository[T]) Upsert(ctx context.Context, entity *T, conflictColumns []string, updateColumns []string) error {
	columns := make([]clause.Column, len(conflictColumns))
	for i, c := range conflictColumns {
		columns[i] = clause.Column{Name: c}
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(updateColumns),
	}).Create(entity).Error
	return mapError("upsert", err)
}

func (r *repository[T]) Find(ctx context.Context, options FindOptions) ([]*T, error) {
	var (
		results []*T
		entity  T
	)
	err := options.apply(r.db.WithContext(ctx).Model(&entity)).Find(&results).Error
	if err != nil {
		return nil, mapError("find", err)
	}
	return results, nil
}

// FindOne returns ErrNotFound when nothing matches.
func (r *repository[T]) FindOne(ctx context.Context, options FindOptions) (*T, error) {
	options.Limit = 1
	results, err := r.Find(ctx, options)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0], nil
}

func (r *repository[T]) Count(ctx context.Context, options FindOptions) (int64, error) {
	var (
		count  int64
		entity T
	)
	db := r.db.WithContext(ctx).Model(&entity)
	if options.Where != nil {
		db = db.Where(map[string]any(options.Where))
	}
	if err := db.Count(&count).Error; err != nil {
		return 0, mapError("count", err)
	}
	return count, nil
}
