package store

import (
	"time"

	"github.com/pescn/psy-data-gen/commbus"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

type sessionRow struct {
	ID                string     `gorm:"primaryKey;size:64"`
	TerminationReason string     `gorm:"size:64;index"`
	Rounds            int        `gorm:"not null"`
	FinalPhase        string     `gorm:"size:64"`
	MaxRisk           int        `gorm:"not null"`
	Student           string     `gorm:"size:191"`
	Counselor         string     `gorm:"size:191"`
	SnapshotJSON      string     `gorm:"type:text;not null"`
	StartedAt         time.Time  `gorm:"not null;index"`
	EndedAt           *time.Time `gorm:"index"`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "psygen_sessions"
}

func (r sessionRow) toSummary() commbus.SnapshotSummary {
	return commbus.SnapshotSummary{
		ID:                r.ID,
		TerminationReason: session.TerminationReason(r.TerminationReason),
		Rounds:            r.Rounds,
		FinalPhase:        r.FinalPhase,
		MaxRisk:           r.MaxRisk,
	}
}

func sessionRowFromSnapshot(snap *session.Snapshot, doc []byte) sessionRow {
	return sessionRow{
		ID:                snap.ID,
		TerminationReason: string(snap.TerminationReason),
		Rounds:            snap.CurrentRound,
		FinalPhase:        string(snap.CurrentPhase),
		MaxRisk:           snap.CumulativeRisk.Overall,
		Student:           snap.Metadata["student"],
		Counselor:         snap.Metadata["counselor"],
		SnapshotJSON:      string(doc),
		StartedAt:         snap.StartedAt,
		EndedAt:           snap.EndedAt,
	}
}
