// Package store persists retrain run history (gorm) and the recommendation
// audit trail (database/sql).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrRunNotFound = errors.New("run not found")

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	// RunSuperseded marks a queued run replaced by a newer trigger.
	RunSuperseded RunStatus = "superseded"
)

// StageTiming is how long one pipeline stage took.
type StageTiming struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunRecord is the domain view of RunModel.
type RunRecord struct {
	ID          string          `json:"id"`
	Trigger     string          `json:"trigger"`
	Status      RunStatus       `json:"status"`
	Config      json.RawMessage `json:"config,omitempty"`
	Stages      []StageTiming   `json:"stages,omitempty"`
	ReleaseID   string          `json:"release_id,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Samples     int             `json:"samples"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	FinishedAt  time.Time       `json:"finished_at,omitzero"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RunStore keeps retrain history in SQLite via gorm.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(path string) (*RunStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("run store: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnix(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toModel(r RunRecord) (RunModel, error) {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return RunModel{}, err
	}
	cfg := r.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}
	return RunModel{
		ID:             r.ID,
		Trigger:        r.Trigger,
		Status:         string(r.Status),
		ConfigJSON:     datatypes.JSON(cfg),
		StagesJSON:     datatypes.JSON(stages),
		ReleaseID:      r.ReleaseID,
		Fingerprint:    r.Fingerprint,
		Samples:        r.Samples,
		Error:          r.Error,
		StartedAtUnix:  unix(r.StartedAt),
		FinishedAtUnix: unix(r.FinishedAt),
		CreatedAtUnix:  unix(r.CreatedAt),
		UpdatedAtUnix:  time.Now().UnixMilli(),
	}, nil
}

func fromModel(m RunModel) RunRecord {
	rec := RunRecord{
		ID:          m.ID,
		Trigger:     m.Trigger,
		Status:      RunStatus(m.Status),
		Config:      json.RawMessage(m.ConfigJSON),
		ReleaseID:   m.ReleaseID,
		Fingerprint: m.Fingerprint,
		Samples:     m.Samples,
		Error:       m.Error,
		StartedAt:   fromUnix(m.StartedAtUnix),
		FinishedAt:  fromUnix(m.FinishedAtUnix),
		CreatedAt:   fromUnix(m.CreatedAtUnix),
	}
	if len(m.StagesJSON) > 0 {
		_ = json.Unmarshal(m.StagesJSON, &rec.Stages)
	}
	return rec
}

// Save inserts or replaces a run.
func (s *RunStore) Save(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run store: empty run id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m, err := toModel(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&m).Error
}

func (s *RunStore) Get(ctx context.Context, id string) (RunRecord, error) {
	var m RunModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}
	return fromModel(m), nil
}

// List returns the newest runs first.
func (s *RunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []RunModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, fromModel(m))
	}
	return out, nil
}

// MarkInterrupted fails runs left queued or running by a previous process.
func (s *RunStore) MarkInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()
	res := s.db.WithContext(ctx).Model(&RunModel{}).
		Where("status IN ?", []string{string(RunQueued), string(RunRunning)}).
		Updates(map[string]any{
			"status":      string(RunFailed),
			"error":       "interrupted by restart",
			"finished_at": now,
			"updated_at":  now,
		})
	return res.RowsAffected, res.Error
}
