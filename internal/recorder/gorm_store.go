package recorder

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// User mirrors the identity service's table; the recorder only ever bumps
// the aggregate counters.
type User struct {
	ID         string `gorm:"primaryKey;size:64"`
	Username   string `gorm:"uniqueIndex;size:64"`
	TotalGames int    `gorm:"not null;default:0"`
	TotalWins  int    `gorm:"not null;default:0"`
}

// GormStore persists matches and counters in Postgres.
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore connects to Postgres and migrates the match table.
func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("recorder: open database: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &Match{}); err != nil {
		return nil, fmt.Errorf("recorder: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStore wraps an existing gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// SaveMatch inserts the row and updates both players' aggregates in one
// transaction.
func (s *GormStore) SaveMatch(ctx context.Context, m *Match) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		for _, pid := range []string{m.P1ID, m.P2ID} {
			updates := map[string]any{
				"total_games": gorm.Expr("total_games + 1"),
			}
			if m.WinnerID != nil && *m.WinnerID == pid {
				updates["total_wins"] = gorm.Expr("total_wins + 1")
			}
			if err := tx.Model(&User{}).Where("id = ?", pid).Updates(updates).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns a player's aggregate record.
func (s *GormStore) Stats(ctx context.Context, userID string) (UserStats, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return UserStats{}, fmt.Errorf("recorder: stats for %s: %w", userID, err)
	}
	return toStats(u), nil
}

// Leaderboard returns the top players by total wins, restricted to players
// with at least one game.
func (s *GormStore) Leaderboard(ctx context.Context, limit int) ([]UserStats, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Where("total_games >= 1").
		Order("total_wins DESC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("recorder: leaderboard: %w", err)
	}
	stats := make([]UserStats, 0, len(users))
	for _, u := range users {
		stats = append(stats, toStats(u))
	}
	return stats, nil
}

func toStats(u User) UserStats {
	st := UserStats{
		UserID:     u.ID,
		Username:   u.Username,
		TotalGames: u.TotalGames,
		TotalWins:  u.TotalWins,
	}
	if u.TotalGames > 0 {
		st.WinRate = float64(u.TotalWins) / float64(u.TotalGames) * 100
	}
	return st
}
