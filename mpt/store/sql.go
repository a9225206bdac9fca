package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps records in a single two-column table of a relational database (sqlite or postgres
// through gorm). Batches run inside one transaction.
type SQLStore struct {
	db       *gorm.DB
	table    string
	pageSize int

	log *slog.Logger
}

var _ NodeStore = (*SQLStore)(nil)

type sqlRecord struct {
	K []byte `gorm:"column:k;primaryKey"`
	V []byte `gorm:"column:v"`
}

// NewSQLStore migrates (if needed) and wraps the given table. Tries in different namespaces can share
// a table; separate tables are only needed to keep unrelated data apart.
func NewSQLStore(db *gorm.DB, table string) (*SQLStore, error) {
	if table == "" {
		table = "vds_nodes"
	}
	if err := db.Table(table).AutoMigrate(&sqlRecord{}); err != nil {
		return nil, fmt.Errorf("migrating %s: %w", table, err)
	}
	return &SQLStore{
		db:       db,
		table:    table,
		pageSize: 1000,
		log:      slog.Default().With("system", "sqlstore", "table", table),
	}, nil
}

func (s *SQLStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	var rec sqlRecord
	res := s.db.WithContext(ctx).Table(s.table).Where("k = ?", key).Limit(1).Find(&rec)
	if res.Error != nil {
		return nil, &OpError{Op: "get", Key: key, Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return rec.V, nil
}

func (s *SQLStore) Write(ctx context.Context, b *Batch) error {
	ctx, span := otel.Tracer("sqlstore").Start(ctx, "Write")
	defer span.End()

	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range b.Ops() {
			switch op.Kind {
			case OpPut:
				if err := tx.Table(s.table).Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "k"}},
					DoUpdates: clause.AssignmentColumns([]string{"v"}),
				}).Create(&sqlRecord{K: op.Key, V: op.Value}).Error; err != nil {
					return err
				}
			case OpDelete:
				if err := tx.Table(s.table).Where("k = ?", op.Key).Delete(&sqlRecord{}).Error; err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown batch op kind %d", op.Kind)
			}
		}
		return nil
	})
	observeBatch("sql", b, start, err)
	if err != nil {
		s.log.Error("sql batch write", "ops", b.Len(), "bytes", b.Size(), "err", err)
		return batchErr(b, err)
	}
	return nil
}

// Iterate pages through the table by key so no connection is held while fn runs; fn may write to the
// store.
func (s *SQLStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	end := prefixEnd(prefix)
	after := []byte(nil)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := s.db.WithContext(ctx).Table(s.table)
		if after == nil {
			q = q.Where("k >= ?", prefix)
		} else {
			q = q.Where("k > ?", after)
		}
		if end != nil {
			q = q.Where("k < ?", end)
		}
		var page []sqlRecord
		if err := q.Order("k").Limit(s.pageSize).Find(&page).Error; err != nil {
			return &OpError{Op: "iterate", Key: prefix, Err: err}
		}
		for _, rec := range page {
			if err := fn(rec.K, rec.V); err != nil {
				return err
			}
		}
		if len(page) < s.pageSize {
			return nil
		}
		after = page[len(page)-1].K
	}
}

// Close is a no-op: the *gorm.DB is owned by the caller.
func (s *SQLStore) Close() error {
	return nil
}
