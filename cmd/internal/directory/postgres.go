package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads threads and participants from the account database:
//
//	<schema>.conversations(id, kind, title)
//	<schema>.conversation_members(conversation_id, user_id, joined_at)
//	<schema>.users(id, display_name, avatar_ref)
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresDirectory behavior.
type PostgresOption func(*PostgresDirectory) error

// WithSchema sets the DB schema (default: "campus").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("directory: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("directory: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{pool: pool, schema: "campus"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("directory: nil pool")
	}
	return d, nil
}

func (d *PostgresDirectory) Thread(ctx context.Context, threadID string) (Thread, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return Thread{}, ErrThreadNotFound
	}
	if err := ctx.Err(); err != nil {
		return Thread{}, err
	}

	conversations := pgIdent(d.schema, "conversations")

	t := Thread{ID: threadID}
	err := d.pool.QueryRow(ctx,
		`SELECT kind, COALESCE(title, '') FROM `+conversations+` WHERE id = $1`,
		threadID,
	).Scan(&t.Kind, &t.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("directory: thread: %w", err)
	}
	return t, nil
}

func (d *PostgresDirectory) Participants(ctx context.Context, threadID string) ([]Participant, error) {
	if _, err := d.Thread(ctx, threadID); err != nil {
		return nil, err
	}

	members := pgIdent(d.schema, "conversation_members")
	users := pgIdent(d.schema, "users")

	rows, err := d.pool.Query(ctx,
		`SELECT u.id, COALESCE(u.display_name, u.id), COALESCE(u.avatar_ref, '')
		   FROM `+members+` m
		   JOIN `+users+` u ON u.id = m.user_id
		  WHERE m.conversation_id = $1
		  ORDER BY m.joined_at ASC, u.id ASC`,
		strings.TrimSpace(threadID),
	)
	if err != nil {
		return nil, fmt.Errorf("directory: participants: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Participant, error) {
		var p Participant
		err := row.Scan(&p.UserID, &p.DisplayName, &p.AvatarRef)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("directory: participants: %w", err)
	}
	return out, nil
}

func (d *PostgresDirectory) IsMember(ctx context.Context, userID, threadID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	threadID = strings.TrimSpace(threadID)
	if userID == "" || threadID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	members := pgIdent(d.schema, "conversation_members")

	var one int
	err := d.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE conversation_id = $1 AND user_id = $2`,
		threadID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("directory: membership: %w", err)
	}
	return true, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier quotes each part, so schema names cannot inject SQL.
	return pgx.Identifier{schema, table}.Sanitize()
}
