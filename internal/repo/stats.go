package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
)

// MessagesStats returns, for one conversation, the number of messages, the
// highest seq and how many of them are read. Together they change whenever a
// message is added or read, which is what the message list ETag tracks.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count, lastSeq, read int64, err error) {
	var row struct {
		N       int64
		LastSeq int64
		ReadN   int64
	}
	err = db.WithContext(ctx).
		Model(&domain.Message{}).
		Select("COUNT(*) AS n, COALESCE(MAX(seq), 0) AS last_seq, COUNT(read_at) AS read_n").
		Where("conversation_id = ?", conversationID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, 0, err
	}
	return row.N, row.LastSeq, row.ReadN, nil
}
