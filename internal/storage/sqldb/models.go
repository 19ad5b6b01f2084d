package sqldb

import "time"

// playerRow is a registered player. Deleting a team row leaves its members
// unassigned through the foreign key.
type playerRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Name       string    `gorm:"size:255;not null"`
	FoldedName string    `gorm:"size:255;not null;uniqueIndex"`
	TeamID     *int      `gorm:"index"`
	Team       *teamRow  `gorm:"foreignKey:TeamID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
	Seq        uint64    `gorm:"not null;index"`
	JoinedAt   time.Time `gorm:"not null"`
}

func (playerRow) TableName() string {
	return "players"
}

// teamRow is a materialized team. Explicit rows were created or renamed by
// an organizer and survive without members.
type teamRow struct {
	ID        int    `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"size:255;not null"`
	Explicit  bool   `gorm:"not null"`
	CreatedAt time.Time
}

func (teamRow) TableName() string {
	return "teams"
}

type metaRow struct {
	ID      int `gorm:"primaryKey;autoIncrement:false"`
	Version uint64
	NextSeq uint64
}

func (metaRow) TableName() string {
	return "roster_meta"
}

const metaID = 1
