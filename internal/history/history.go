// Package history records completed and failed transfers in a local
// sqlite database.
package history

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type Transfer struct {
	ID        uint `gorm:"primaryKey"`
	FileID    string
	Name      string
	Size      int64
	MimeType  string
	Direction Direction
	PeerID    string
	RoomID    string
	Succeeded bool
	Error     string
	CreatedAt int64
}

type Store struct {
	DB *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Record(t *Transfer) error {
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().Unix()
	}
	return s.DB.Create(t).Error
}

// List returns the most recent transfers, newest first. limit <= 0 means
// no limit.
func (s *Store) List(limit int) ([]Transfer, error) {
	var out []Transfer
	q := s.DB.Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
