package contacts

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestContactByIDGoneReturnsNil(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectQuery(`SELECT id, team_id, email.+FROM emailer_contacts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id", "email", "name", "subscribed"}))

	c, err := d.ContactByID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ContactByID: %v", err)
	}
	if c != nil {
		t.Errorf("missing contact must return nil, got %+v", c)
	}
}

func TestActiveByTeam(t *testing.T) {
	d, mock := newMock(t)
	teamID := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "team_id", "email", "name", "subscribed"}).
		AddRow(uuid.New(), teamID, "a@example.com", "A", true).
		AddRow(uuid.New(), teamID, "b@example.com", "", true)
	mock.ExpectQuery(`WHERE team_id = \$1 AND subscribed AND email <> ''`).
		WithArgs(teamID).
		WillReturnRows(rows)

	got, err := d.ActiveByTeam(context.Background(), teamID)
	if err != nil {
		t.Fatalf("ActiveByTeam: %v", err)
	}
	if len(got) != 2 || got[0].Email != "a@example.com" {
		t.Errorf("got %+v", got)
	}
}

func TestActiveByCategoryJoins(t *testing.T) {
	d, mock := newMock(t)
	categoryID := uuid.New()
	mock.ExpectQuery(`JOIN emailer_category_contacts cc ON cc.contact_id = c.id`).
		WithArgs(categoryID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id", "email", "name", "subscribed"}).
			AddRow(uuid.New(), uuid.New(), "m@example.com", "M", true))

	got, err := d.ActiveByCategory(context.Background(), categoryID)
	if err != nil {
		t.Fatalf("ActiveByCategory: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d contacts, want 1", len(got))
	}
}

func TestUnsubscribe(t *testing.T) {
	d, mock := newMock(t)
	id := uuid.New()
	mock.ExpectExec(`UPDATE emailer_contacts SET subscribed = FALSE`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := d.Unsubscribe(context.Background(), id); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
}

func TestUnsubscribeUnknownContact(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectExec(`UPDATE emailer_contacts SET subscribed = FALSE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := d.Unsubscribe(context.Background(), uuid.New()); err != domain.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMailSettingsForNoOverride(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectQuery(`FROM emailer_team_mail_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"h", "p", "u", "pw", "e", "fa", "fn"}))

	m, err := d.MailSettingsFor(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("MailSettingsFor: %v", err)
	}
	if m != nil {
		t.Errorf("no override row must return nil, got %+v", m)
	}
}

func TestMailSettingsFor(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectQuery(`FROM emailer_team_mail_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"h", "p", "u", "pw", "e", "fa", "fn"}).
			AddRow("smtp.team.example.com", 465, "user", "pass", "ssl", "team@example.com", "Team"))

	m, err := d.MailSettingsFor(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("MailSettingsFor: %v", err)
	}
	if !m.HasSMTP() || m.Port != 465 || m.Encryption != "ssl" {
		t.Errorf("settings = %+v", m)
	}
}
