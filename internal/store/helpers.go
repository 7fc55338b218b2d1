// Package store: shared row-scanning helpers for the SQL backends.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/convograph/convograph/internal/models"
)

var (
	errConversationNotFound = errors.New("conversation not found")
	errSubscriberNotFound   = errors.New("subscriber not found")
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc[T any](row rowScanner) (*T, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan document row: %w", err)
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return v, nil
}

func scanBlock(row rowScanner) (*models.Block, error) {
	return scanDoc[models.Block](row)
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	return scanDoc[models.Conversation](row)
}

func scanSubscriber(row rowScanner) (*models.Subscriber, error) {
	return scanDoc[models.Subscriber](row)
}

func scanBlocks(rows *sql.Rows) ([]*models.Block, error) {
	var blocks []*models.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate block rows: %w", err)
	}
	return blocks, nil
}

// sqlitePlaceholder yields "?" placeholders; postgresPlaceholder yields $N.
func sqlitePlaceholder(int) string { return "?" }

func postgresPlaceholder(i int) string { return fmt.Sprintf("$%d", i+1) }

// inClause expands an IN (...) query with one placeholder per id.
func inClause(format string, ids []string, placeholder func(int) string) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = placeholder(i)
		args[i] = id
	}
	return fmt.Sprintf(format, strings.Join(marks, ", ")), args
}

// requireRow converts a zero-rows-affected update into notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
