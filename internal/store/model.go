package store

import "gorm.io/datatypes"

// RunModel is one background regeneration/retrain run.
type RunModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Trigger        string         `gorm:"column:trigger"`
	Status         string         `gorm:"column:status;index"`
	ConfigJSON     datatypes.JSON `gorm:"column:config_json"`
	StagesJSON     datatypes.JSON `gorm:"column:stages_json"`
	ReleaseID      string         `gorm:"column:release_id"`
	Fingerprint    string         `gorm:"column:fingerprint"`
	Samples        int            `gorm:"column:samples"`
	Error          string         `gorm:"column:error"`
	StartedAtUnix  int64          `gorm:"column:started_at"`
	FinishedAtUnix int64          `gorm:"column:finished_at"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (RunModel) TableName() string { return "retrain_runs" }
