package sqlite

import (
	"fmt"
	"strings"

	"ppemonitor/internal/dto"
	"ppemonitor/internal/models"
)

// HistoryRepository implements repository.HistoryRepository for SQLite.
// The log is bounded: appends beyond the limit prune the oldest rows.
type HistoryRepository struct {
	db    *DB
	limit int
}

// NewHistoryRepository creates a bounded SQLite history repository. A limit
// below 1 keeps the log unbounded.
func NewHistoryRepository(db *DB, limit int) *HistoryRepository {
	return &HistoryRepository{db: db, limit: limit}
}

// Append stores one verdict record and prunes rows beyond the limit,
// oldest first.
func (r *HistoryRepository) Append(record *models.HistoryRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO verdicts (session_id, is_compliant, completion_rate, missing, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, record.SessionID, record.IsCompliant, record.CompletionRate, record.Missing, record.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert verdict: %w", err)
	}

	if r.limit > 0 {
		if _, err := r.db.Conn().Exec(`
			DELETE FROM verdicts WHERE id NOT IN (
				SELECT id FROM verdicts ORDER BY id DESC LIMIT ?
			)
		`, r.limit); err != nil {
			return 0, fmt.Errorf("failed to prune verdicts: %w", err)
		}
	}

	return result.LastInsertId()
}

// Recent returns verdicts matching the filters, newest first.
func (r *HistoryRepository) Recent(filter *dto.HistoryFilters) ([]models.HistoryRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT id, session_id, is_compliant, completion_rate, missing, created_at FROM verdicts`
	args := []interface{}{}
	where := ""

	if filter != nil {
		if filter.OnlyViolations {
			where = " WHERE is_compliant = 0"
		}
		if !filter.After.IsZero() {
			if where == "" {
				where = " WHERE created_at >= ?"
			} else {
				where += " AND created_at >= ?"
			}
			args = append(args, filter.After)
		}
	}

	query += where + " ORDER BY id DESC"
	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var records []models.HistoryRecord
	for rows.Next() {
		var rec models.HistoryRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.IsCompliant, &rec.CompletionRate, &rec.Missing, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// Stats summarizes the stored history.
func (r *HistoryRepository) Stats() (*models.HistoryStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &models.HistoryStats{MissingCounts: make(map[string]int)}

	row := r.db.Conn().QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_compliant = 0 THEN 1 ELSE 0 END), 0)
		FROM verdicts
	`)
	if err := row.Scan(&stats.TotalRecords, &stats.Violations); err != nil {
		return nil, fmt.Errorf("failed to scan stats: %w", err)
	}

	rows, err := r.db.Conn().Query(`SELECT missing FROM verdicts WHERE is_compliant = 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing classes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var missing string
		if err := rows.Scan(&missing); err != nil {
			return nil, fmt.Errorf("failed to scan missing: %w", err)
		}
		for _, name := range splitClasses(missing) {
			stats.MissingCounts[name]++
		}
	}

	return stats, nil
}

// Count returns the number of stored records.
func (r *HistoryRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM verdicts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count verdicts: %w", err)
	}
	return count, nil
}

// DeleteAll clears the history.
func (r *HistoryRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM verdicts`); err != nil {
		return fmt.Errorf("failed to delete verdicts: %w", err)
	}
	return nil
}

func splitClasses(joined string) []string {
	if joined == "" || joined == "none" {
		return nil
	}
	return strings.Split(joined, ",")
}
