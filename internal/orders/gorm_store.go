package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"water-order-bot/internal/model"
)

// GormStore persists orders in a SQL table through gorm.
type GormStore struct {
	db   *gorm.DB
	log  logrus.FieldLogger
	opts options
}

// NewGormStore creates a SQL-backed store. A nil db puts the store in
// degraded mode.
func NewGormStore(db *gorm.DB, log logrus.FieldLogger, opts ...Option) *GormStore {
	if db == nil {
		log.Warn("Order database unavailable; order tracking is disabled until restart")
	}
	return &GormStore{db: db, log: log, opts: buildOptions(opts)}
}

func (s *GormStore) Degraded() bool { return s.db == nil }

func (s *GormStore) Create(ctx context.Context, order model.PendingOrder) (string, error) {
	order = prepare(order, s.opts.now())
	if s.Degraded() {
		return order.TrackingID, nil
	}

	rec := model.NewOrderRecord(order)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("failed to create pending order: %w", err)
	}
	return order.TrackingID, nil
}

func (s *GormStore) ListPending(ctx context.Context) ([]model.PendingOrder, error) {
	if s.Degraded() {
		return []model.PendingOrder{}, nil
	}

	var records []model.OrderRecord
	if err := s.db.WithContext(ctx).Order("sent_at asc, row_key asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}

	list := make([]model.PendingOrder, 0, len(records))
	for _, rec := range records {
		o, err := rec.ToPendingOrder()
		if err != nil {
			s.log.WithError(err).WithField("tracking_id", rec.RowKey).Warn("Skipping unreadable pending order")
			continue
		}
		list = append(list, o)
	}
	return list, nil
}

func (s *GormStore) Get(ctx context.Context, trackingID string) (*model.PendingOrder, error) {
	if s.Degraded() {
		return nil, ErrNotFound
	}
	partition, err := PartitionKeyOf(trackingID)
	if err != nil {
		return nil, ErrNotFound
	}

	var rec model.OrderRecord
	err = s.db.WithContext(ctx).
		Where("partition_key = ? AND row_key = ?", partition, trackingID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending order: %w", err)
	}

	o, err := rec.ToPendingOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *GormStore) Complete(ctx context.Context, trackingID string) error {
	if s.Degraded() {
		return nil
	}
	partition, err := PartitionKeyOf(trackingID)
	if err != nil {
		return nil
	}

	err = s.db.WithContext(ctx).
		Where("partition_key = ? AND row_key = ?", partition, trackingID).
		Delete(&model.OrderRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to complete order %s: %w", trackingID, err)
	}
	return nil
}

func (s *GormStore) UpdateReminder(ctx context.Context, trackingID string, at time.Time) error {
	if s.Degraded() {
		return nil
	}
	partition, err := PartitionKeyOf(trackingID)
	if err != nil {
		return nil
	}

	err = s.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("partition_key = ? AND row_key = ?", partition, trackingID).
		Update("last_reminder_at", model.FormatTimestamp(at)).Error
	if err != nil {
		return fmt.Errorf("failed to update reminder for order %s: %w", trackingID, err)
	}
	return nil
}

func (s *GormStore) Count(ctx context.Context) (int, error) {
	if s.Degraded() {
		return 0, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.OrderRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count pending orders: %w", err)
	}
	return int(n), nil
}

func (s *GormStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if s.Degraded() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("sent_at < ?", model.FormatTimestamp(cutoff)).
		Delete(&model.OrderRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge orders: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
