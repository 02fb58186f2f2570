package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pescn/psy-data-gen/commbus"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// GormStore implements commbus.SnapshotStore on sqlite or postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database and migrates the schema.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}

	store := &GormStore{db: gormDB}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(&sessionRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SaveSnapshot inserts or replaces the snapshot of a session.
func (s *GormStore) SaveSnapshot(ctx context.Context, snap *session.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return errors.New("save snapshot: missing session id")
	}
	doc, err := snap.Export()
	if err != nil {
		return err
	}

	row := sessionRowFromSnapshot(snap, doc)
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"termination_reason", "rounds", "final_phase", "max_risk", "student", "counselor", "snapshot_json", "started_at", "ended_at", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot or a *commbus.SessionNotFoundError.
func (s *GormStore) LoadSnapshot(ctx context.Context, id string) (*session.Snapshot, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, commbus.NewSessionNotFoundError(id)
		}
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return session.Import([]byte(row.SnapshotJSON))
}

// ListSnapshots returns summaries ordered by start time.
func (s *GormStore) ListSnapshots(ctx context.Context, filter commbus.SnapshotFilter) ([]commbus.SnapshotSummary, error) {
	query := s.db.WithContext(ctx).Model(&sessionRow{}).Order("started_at ASC, id ASC")
	if filter.Reason != "" {
		query = query.Where("termination_reason = ?", string(filter.Reason))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []sessionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]commbus.SnapshotSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toSummary())
	}
	return out, nil
}

// =============================================================================
// BUS HANDLERS
// =============================================================================

// HandlePersist answers the PersistSnapshot command.
func (s *GormStore) HandlePersist(ctx context.Context, msg commbus.Message) (any, error) {
	cmd, ok := msg.(*commbus.PersistSnapshot)
	if !ok {
		return nil, fmt.Errorf("unexpected message %s", commbus.GetMessageType(msg))
	}
	return nil, s.SaveSnapshot(ctx, cmd.Snapshot)
}

// Register installs the PersistSnapshot handler on bus.
func (s *GormStore) Register(bus commbus.CommBus) error {
	return bus.RegisterHandler("PersistSnapshot", s.HandlePersist)
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

var _ commbus.SnapshotStore = (*GormStore)(nil)
