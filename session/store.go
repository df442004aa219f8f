package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rehearsed/rehearsed/engine"
)

// ErrSessionNotFound is returned by Get for an unknown (app, user, id).
var ErrSessionNotFound = errors.New("session not found")

// =============================================================================
// 🗄️ Rows
// =============================================================================

// Row is a persisted session header.
type Row struct {
	AppName   string    `gorm:"primaryKey;size:100" json:"app_name"`
	UserID    string    `gorm:"primaryKey;size:100" json:"user_id"`
	ID        string    `gorm:"primaryKey;size:100" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (Row) TableName() string {
	return "sessions"
}

// EventRow is one persisted engine event. Seq preserves append order.
type EventRow struct {
	Seq          uint      `gorm:"primaryKey;autoIncrement"`
	EventID      string    `gorm:"size:64;uniqueIndex"`
	AppName      string    `gorm:"size:100;not null;index:idx_session_events_session"`
	UserID       string    `gorm:"size:100;not null;index:idx_session_events_session"`
	SessionID    string    `gorm:"size:100;not null;index:idx_session_events_session"`
	InvocationID string    `gorm:"size:64"`
	Author       string    `gorm:"size:100"`
	Payload      string    `gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
}

func (EventRow) TableName() string {
	return "session_events"
}

// =============================================================================
// 📒 Store
// =============================================================================

// Store persists sessions and their event logs with gorm. It implements
// engine.SessionService.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "session_store")),
	}
}

// AutoMigrate creates the session tables.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Row{}, &EventRow{})
}

// GetOrCreate returns the session keyed by (appName, userID, id), creating it
// when absent. Concurrent calls with the same key never produce duplicates.
// An empty id creates a session with a fresh identifier.
func (s *Store) GetOrCreate(ctx context.Context, appName, userID, id string) (*engine.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	row := Row{AppName: appName, UserID: userID, ID: id}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return nil, fmt.Errorf("create session %s: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("session created",
			zap.String("user_id", userID),
			zap.String("session_id", id),
		)
	}
	return s.Get(ctx, appName, userID, id)
}

// Get loads a session with its full event log.
func (s *Store) Get(ctx context.Context, appName, userID, id string) (*engine.Session, error) {
	var row Row
	err := s.db.WithContext(ctx).
		Where("app_name = ? AND user_id = ? AND id = ?", appName, userID, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var rows []EventRow
	err = s.db.WithContext(ctx).
		Where("app_name = ? AND user_id = ? AND session_id = ?", appName, userID, id).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load events for session %s: %w", id, err)
	}

	events := make([]*engine.Event, 0, len(rows))
	for _, r := range rows {
		var ev engine.Event
		if err := json.Unmarshal([]byte(r.Payload), &ev); err != nil {
			s.logger.Warn("skipping undecodable event",
				zap.String("session_id", id),
				zap.String("event_id", r.EventID),
				zap.Error(err),
			)
			continue
		}
		events = append(events, &ev)
	}
	return engine.NewSession(row.AppName, row.UserID, row.ID, events, row.UpdatedAt), nil
}

// List returns the user's sessions, most recently updated first. Event logs
// are not loaded.
func (s *Store) List(ctx context.Context, appName, userID string) ([]Row, error) {
	var rows []Row
	err := s.db.WithContext(ctx).
		Where("app_name = ? AND user_id = ?", appName, userID).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return rows, nil
}

// AppendEvent implements engine.SessionService. Partial events are streaming
// fragments and are not persisted.
func (s *Store) AppendEvent(ctx context.Context, sess *engine.Session, e *engine.Event) error {
	if e.Partial {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&EventRow{
			EventID:      e.ID,
			AppName:      sess.AppName,
			UserID:       sess.UserID,
			SessionID:    sess.ID,
			InvocationID: e.InvocationID,
			Author:       e.Author,
			Payload:      string(payload),
			CreatedAt:    e.Timestamp,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&Row{}).
			Where("app_name = ? AND user_id = ? AND id = ?", sess.AppName, sess.UserID, sess.ID).
			Update("updated_at", e.Timestamp).Error
	})
	if err != nil {
		return fmt.Errorf("append event to session %s: %w", sess.ID, err)
	}
	sess.Append(e)
	return nil
}
