package repository

import (
	"context"
	"errors"
	"time"

	"medledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceRepository hands out per-epoch counter values. Must be called inside
// a transaction: the counter row stays locked until commit or rollback, so a
// rolled-back bill also rolls back its number.
type SequenceRepository interface {
	// Next increments and returns the counter for epoch. When the counter row
	// does not exist yet it is created with the value returned by seed.
	Next(ctx context.Context, epoch string, seed func(ctx context.Context) (int64, error)) (int64, error)
}

type sequenceRepository struct {
	db *gorm.DB
}

func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &sequenceRepository{db: db}
}

func (r *sequenceRepository) lock(db *gorm.DB, epoch string) (*model.BillSequence, error) {
	var seq model.BillSequence
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("epoch = ?", epoch).Take(&seq).Error; err != nil {
		return nil, err
	}
	return &seq, nil
}

func (r *sequenceRepository) Next(ctx context.Context, epoch string, seed func(ctx context.Context) (int64, error)) (int64, error) {
	db := GetDB(ctx, r.db)

	seq, err := r.lock(db, epoch)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		start, seedErr := seed(ctx)
		if seedErr != nil {
			return 0, seedErr
		}
		// A concurrent first bill of the epoch may insert the row first; ours
		// then becomes a no-op and we lock theirs.
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.BillSequence{Epoch: epoch, LastValue: start}).Error; err != nil {
			return 0, err
		}
		seq, err = r.lock(db, epoch)
	}
	if err != nil {
		return 0, err
	}

	seq.LastValue++
	if err := db.Model(&model.BillSequence{}).Where("epoch = ?", epoch).
		UpdateColumns(map[string]interface{}{"last_value": seq.LastValue, "updated_at": time.Now()}).Error; err != nil {
		return 0, err
	}
	return seq.LastValue, nil
}
