package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// scanStates decodes a result set of state_json documents.
func scanStates(rows *sql.Rows) ([]*models.ConversationState, error) {
	var out []*models.ConversationState
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan conversation failed: %w", err)
		}
		c, err := models.UnmarshalState(data)
		if err != nil {
			return nil, fmt.Errorf("decode conversation failed: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations failed: %w", err)
	}
	return out, nil
}
