package repository

import (
	"ppemonitor/internal/dto"
	"ppemonitor/internal/models"
)

// HistoryRepository is the durable, bounded append log of past verdicts.
// The session only appends; reads serve the history API.
type HistoryRepository interface {
	// Append stores one verdict record and prunes the oldest rows beyond
	// the configured capacity.
	Append(record *models.HistoryRecord) (int64, error)

	// Recent returns records matching the filters, newest first.
	Recent(filter *dto.HistoryFilters) ([]models.HistoryRecord, error)

	// Stats summarizes the stored history.
	Stats() (*models.HistoryStats, error)

	// Count returns the number of stored records.
	Count() (int, error)

	// DeleteAll clears the history.
	DeleteAll() error
}
