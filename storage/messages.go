package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status tracks a message through its anchoring lifecycle. Transitions only
// ever move pending -> confirmed or pending -> failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Message is the persisted record of an anchored text message.
type Message struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Body        string    `gorm:"size:1120;not null"`
	ContentHash string    `gorm:"size:66;index;not null"`
	TxHash      *string   `gorm:"size:66;index"`
	Status      Status    `gorm:"size:16;index;not null"`
	BlockNumber *uint64
	ConfirmedAt *time.Time
	CreatedAt   time.Time
}

// AutoMigrate performs the schema migrations for the message store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Message{})
}

// Store provides the persistence capabilities the anchoring core depends on.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Save persists a freshly created message exactly once.
func (s *Store) Save(ctx context.Context, msg *Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// FindByID returns the message for the given id, or nil when it does not
// exist.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message %s: %w", id, err)
	}
	return &msg, nil
}

// Update overwrites the mutable fields (transaction hash, status, block
// number, confirmation time) for the message's id.
func (s *Store) Update(ctx context.Context, msg *Message) error {
	result := s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", msg.ID).Updates(map[string]interface{}{
		"tx_hash":      msg.TxHash,
		"status":       msg.Status,
		"block_number": msg.BlockNumber,
		"confirmed_at": msg.ConfirmedAt,
	})
	if result.Error != nil {
		return fmt.Errorf("update message %s: %w", msg.ID, result.Error)
	}
	return nil
}

// FindPendingWithTxHash lists every message still pending that already holds
// a transaction reference, oldest first. These are the only candidates for
// reconciliation.
func (s *Store) FindPendingWithTxHash(ctx context.Context) ([]Message, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("status = ? AND tx_hash IS NOT NULL", StatusPending).
		Order("created_at asc").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("find pending messages: %w", err)
	}
	return msgs, nil
}
