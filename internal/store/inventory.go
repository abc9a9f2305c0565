package store

import (
	"context"
	"fmt"
)

// InventoryCount is the number of active items of a kind in a status.
type InventoryCount struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// HolderSummary is how many items a personnel record currently holds.
type HolderSummary struct {
	PersonnelID int64  `json:"personnel_id"`
	Serial      string `json:"serial"`
	Name        string `json:"name"`
	Items       int    `json:"items"`
}

// InventorySummary counts active items by kind and status.
func InventorySummary(ctx context.Context, q Querier) ([]InventoryCount, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT kind, status, COUNT(*) FROM items
		 WHERE deleted_at IS NULL
		 GROUP BY kind, status
		 ORDER BY kind, status`,
	)
	if err != nil {
		return nil, fmt.Errorf("summarizing inventory: %w", err)
	}
	defer rows.Close()

	var counts []InventoryCount
	for rows.Next() {
		var c InventoryCount
		if err := rows.Scan(&c.Kind, &c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning inventory count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Holders lists personnel currently holding at least one item.
func Holders(ctx context.Context, q Querier) ([]HolderSummary, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT p.id, p.serial, p.name, COUNT(*)
		 FROM custody_transactions t
		 JOIN personnel p ON p.id = t.personnel_id
		 WHERE t.action = 'take' AND t.closed_at IS NULL
		 GROUP BY p.id
		 ORDER BY p.serial`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing holders: %w", err)
	}
	defer rows.Close()

	var holders []HolderSummary
	for rows.Next() {
		var h HolderSummary
		if err := rows.Scan(&h.PersonnelID, &h.Serial, &h.Name, &h.Items); err != nil {
			return nil, fmt.Errorf("scanning holder: %w", err)
		}
		holders = append(holders, h)
	}
	return holders, rows.Err()
}
