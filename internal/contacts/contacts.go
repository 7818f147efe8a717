// Package contacts is the default host-side implementation of the
// ContactProvider, CategoryProvider, and TeamProvider interfaces, backed
// by the engine's own Postgres schema. Applications embedding the engine
// as a library substitute their own implementations.
package contacts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

// DB implements the collaborator interfaces on database/sql.
type DB struct {
	db *sql.DB
}

// New creates a Postgres-backed collaborator set.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

func (d *DB) ContactByID(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, team_id, email, COALESCE(name, ''), subscribed
		FROM emailer_contacts
		WHERE id = $1
	`, id)

	var c domain.Contact
	err := row.Scan(&c.ID, &c.TeamID, &c.Email, &c.Name, &c.Subscribed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	return &c, nil
}

func (d *DB) ActiveByTeam(ctx context.Context, teamID uuid.UUID) ([]domain.Contact, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, team_id, email, COALESCE(name, ''), subscribed
		FROM emailer_contacts
		WHERE team_id = $1 AND subscribed AND email <> ''
		ORDER BY created_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("load team contacts: %w", err)
	}
	return scanContacts(rows)
}

func (d *DB) ActiveByCategory(ctx context.Context, categoryID uuid.UUID) ([]domain.Contact, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.id, c.team_id, c.email, COALESCE(c.name, ''), c.subscribed
		FROM emailer_contacts c
		JOIN emailer_category_contacts cc ON cc.contact_id = c.id
		WHERE cc.category_id = $1 AND c.subscribed AND c.email <> ''
		ORDER BY c.created_at
	`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("load category contacts: %w", err)
	}
	return scanContacts(rows)
}

func (d *DB) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE emailer_contacts SET subscribed = FALSE, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("unsubscribe contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MailSettingsFor returns nil when the team carries no override row.
func (d *DB) MailSettingsFor(ctx context.Context, teamID uuid.UUID) (*domain.MailSettings, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT COALESCE(smtp_host, ''), COALESCE(smtp_port, 0),
		       COALESCE(smtp_username, ''), COALESCE(smtp_password, ''),
		       COALESCE(smtp_encryption, ''), COALESCE(from_address, ''), COALESCE(from_name, '')
		FROM emailer_team_mail_settings
		WHERE team_id = $1
	`, teamID)

	var m domain.MailSettings
	err := row.Scan(&m.Host, &m.Port, &m.Username, &m.Password, &m.Encryption, &m.FromAddress, &m.FromName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load team mail settings: %w", err)
	}
	return &m, nil
}

func scanContacts(rows *sql.Rows) ([]domain.Contact, error) {
	defer rows.Close()
	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.ID, &c.TeamID, &c.Email, &c.Name, &c.Subscribed); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
