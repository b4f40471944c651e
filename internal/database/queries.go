package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	participantColumns = `p.id, p."userId", p."conversationId", u.id, u.username, ` +
		`COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.email, '')`
	attachmentColumns = `id, "messageId", filename, "filePath", "fileType", "fileSize", "createdAt"`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (Participant, error) {
	var p Participant
	err := row.Scan(
		&p.Id,
		&p.UserId,
		&p.ConversationId,
		&p.User.Id,
		&p.User.Username,
		&p.User.FirstName,
		&p.User.LastName,
		&p.User.Email,
	)

	return p, err
}

func scanAttachment(row rowScanner) (Attachment, error) {
	var a Attachment
	err := row.Scan(
		&a.Id,
		&a.MessageId,
		&a.Filename,
		&a.FilePath,
		&a.FileType,
		&a.FileSize,
		&a.CreatedAt,
	)

	return a, err
}

func (db *PgGoChatRepository) ParticipantsOf(ctx context.Context, conversationId int) ([]Participant, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participant p "+
			`JOIN auth_user u ON u.id = p."userId" `+
			`WHERE p."conversationId" = $1 ORDER BY p.id`,
		conversationId,
	)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}

		participants = append(participants, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return participants, nil
}

func (db *PgGoChatRepository) ParticipantFor(ctx context.Context, userId, conversationId int) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participant p "+
			`JOIN auth_user u ON u.id = p."userId" `+
			`WHERE p."userId" = $1 AND p."conversationId" = $2 LIMIT 1`,
		userId,
		conversationId,
	)

	return scanParticipant(row)
}

func (db *PgGoChatRepository) ConversationsOf(ctx context.Context, userId int) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT "conversationId" FROM participant WHERE "userId" = $1`,
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

func (db *PgGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRowContext(ctx,
		`INSERT INTO message (content, "participantId", "createdAt") `+
			`VALUES ($1, $2, $3) RETURNING id, "createdAt"`,
		params.Content,
		params.ParticipantId,
		time.Now().UTC(),
	)

	msg := Message{
		Content:        params.Content,
		ParticipantId:  params.ParticipantId,
		ConversationId: params.ConversationId,
	}
	err := res.Scan(
		&msg.Id,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgGoChatRepository) CreateAttachment(ctx context.Context, params CreateAttachmentParams) (Attachment, error) {
	res := db.conn.QueryRowContext(ctx,
		`INSERT INTO message_attachment ("messageId", filename, "filePath", "fileType", "fileSize", "createdAt") `+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+attachmentColumns,
		params.MessageId,
		params.Filename,
		params.FilePath,
		params.FileType,
		params.FileSize,
		time.Now().UTC(),
	)

	return scanAttachment(res)
}

func (db *PgGoChatRepository) GetMessage(ctx context.Context, messageId int) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT m.id, m.content, m."participantId", p."conversationId", m."createdAt" `+
			`FROM message m JOIN participant p ON p.id = m."participantId" `+
			"WHERE m.id = $1 LIMIT 1",
		messageId,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.Content,
		&msg.ParticipantId,
		&msg.ConversationId,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgGoChatRepository) GetAttachment(ctx context.Context, attachmentId int) (Attachment, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+attachmentColumns+" FROM message_attachment WHERE id = $1 LIMIT 1",
		attachmentId,
	)

	return scanAttachment(row)
}

func (db *PgGoChatRepository) MessagesOf(ctx context.Context, conversationId int) ([]MessageRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT m.id, m.content, m."participantId", m."createdAt", `+participantColumns+" "+
			`FROM message m JOIN participant p ON p.id = m."participantId" `+
			`JOIN auth_user u ON u.id = p."userId" `+
			`WHERE p."conversationId" = $1 ORDER BY m."createdAt", m.id`,
		conversationId,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	records := make([]MessageRecord, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var r MessageRecord
		err := rows.Scan(
			&r.Id,
			&r.Content,
			&r.ParticipantId,
			&r.CreatedAt,
			&r.Sender.Id,
			&r.Sender.UserId,
			&r.Sender.ConversationId,
			&r.Sender.User.Id,
			&r.Sender.User.Username,
			&r.Sender.User.FirstName,
			&r.Sender.User.LastName,
			&r.Sender.User.Email,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		r.ConversationId = r.Sender.ConversationId
		records = append(records, r)
		ids = append(ids, int64(r.Id))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(ids) == 0 {
		return records, nil
	}

	attRows, err := db.conn.QueryContext(ctx,
		"SELECT "+attachmentColumns+` FROM message_attachment WHERE "messageId" = ANY($1) ORDER BY id`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer attRows.Close()

	var attachments []Attachment
	for attRows.Next() {
		a, err := scanAttachment(attRows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}

		attachments = append(attachments, a)
	}

	if err := attRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return groupAttachments(records, attachments), nil
}

// groupAttachments hangs each attachment off its message, keeping the
// attachment order.
func groupAttachments(records []MessageRecord, attachments []Attachment) []MessageRecord {
	index := make(map[int]int, len(records))
	for i := range records {
		index[records[i].Id] = i
	}

	for _, a := range attachments {
		if i, ok := index[a.MessageId]; ok {
			records[i].Attachments = append(records[i].Attachments, a)
		}
	}

	return records
}

func (db *PgGoChatRepository) DeleteMessage(ctx context.Context, messageId int) (attachments []Attachment, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		"SELECT "+attachmentColumns+` FROM message_attachment WHERE "messageId" = $1`,
		messageId,
	)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}

	for rows.Next() {
		var a Attachment
		a, err = scanAttachment(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	// attachment rows go with the message through ON DELETE CASCADE
	res, err := tx.ExecContext(ctx, "DELETE FROM message WHERE id = $1", messageId)
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		err = sql.ErrNoRows
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return attachments, nil
}
