package database

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"rsi-trade-bot/internal/models"
)

// Store is the durable record of trades and exit orders. All access is
// serialized behind one mutex; correctness assumes a single live process
// instance (enforced at startup by the advisory lock).
type Store struct {
	mu     sync.Mutex
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore wraps an open database connection.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// InsertTransaction records a trade fact. The (order id, side) pair is
// unique, so inserting the same broker response twice is a no-op; the
// returned flag reports whether a new row was created. The transaction's ID
// field is populated either way.
func (s *Store) InsertTransaction(tx *models.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing models.Transaction
	err := s.db.Where("order_id = ? AND side = ?", tx.OrderID, tx.Side).First(&existing).Error
	if err == nil {
		tx.ID = existing.ID
		s.logger.Debug("Transaction already recorded",
			zap.String("order_id", tx.OrderID), zap.String("side", tx.Side))
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to look up transaction: %w", err)
	}

	if err := s.db.Create(tx).Error; err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return true, nil
}

// InsertExitOrder persists a freshly placed exit order in ACTIVE status.
func (s *Store) InsertExitOrder(o *models.ExitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.Status == "" {
		o.Status = models.StatusActive
	}
	if err := s.db.Create(o).Error; err != nil {
		return fmt.Errorf("failed to insert exit order: %w", err)
	}
	return nil
}

// UpdateExitOrderStatus moves an ACTIVE exit order to a terminal status with
// the execution details. Bracket orders are keyed by group id, plain orders
// by order id, so a plain order id can never match another order's group.
// Rows already terminal are left untouched, which keeps the state machine
// monotonic: the returned flag is false when nothing changed.
func (s *Store) UpdateExitOrderStatus(kind, id, status string, execPrice, execQty float64, legType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyColumn := "order_id"
	if kind == models.KindBracket {
		keyColumn = "group_id"
	}

	now := time.Now()
	res := s.db.Model(&models.ExitOrder{}).
		Where(keyColumn+" = ? AND status = ?", id, models.StatusActive).
		Updates(map[string]interface{}{
			"status":          status,
			"execution_price": execPrice,
			"execution_qty":   execQty,
			"execution_leg":   legType,
			"executed_at":     &now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to update exit order %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListActiveExitOrders returns every exit order still awaiting resolution,
// oldest first so long-pending orders are reconciled before fresh ones.
func (s *Store) ListActiveExitOrders() ([]models.ExitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []models.ExitOrder
	if err := s.db.Where("status = ?", models.StatusActive).
		Order("created_at asc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list active exit orders: %w", err)
	}
	return orders, nil
}

// LastBuyTime returns the exchange-reported time of the most recent BUY for
// the symbol. The second return is false when the symbol has never been
// bought.
func (s *Store) LastBuyTime(symbol string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last struct{ Last int64 }
	err := s.db.Model(&models.Transaction{}).
		Select("MAX(transact_time) as last").
		Where("symbol = ? AND side = ?", symbol, models.SideBuy).
		Scan(&last).Error
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last buy time: %w", err)
	}
	if last.Last == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(last.Last), true, nil
}

// CountBuysToday counts BUY transactions within the calendar day of now,
// in now's location. Recomputed from rows on every call so the quota
// survives restarts.
func (s *Store) CountBuysToday(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int64
	err := s.db.Model(&models.Transaction{}).
		Where("side = ? AND transact_time >= ? AND transact_time < ?",
			models.SideBuy, dayStart.UnixMilli(), dayEnd.UnixMilli()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count daily buys: %w", err)
	}
	return count, nil
}

// PruneTransactions deletes transactions older than the cutoff. Retention
// only; the trading core never removes rows it still reasons about.
func (s *Store) PruneTransactions(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Unscoped().
		Where("transact_time < ?", olderThan.UnixMilli()).
		Delete(&models.Transaction{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune transactions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("Pruned old transactions", zap.Int64("deleted", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
