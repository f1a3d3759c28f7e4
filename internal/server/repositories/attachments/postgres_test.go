package attachments

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/tierstore/internal/dbx"
	"github.com/dmitrijs2005/tierstore/internal/server/models"
)

var attachmentCols = []string{
	"id", "name", "res_model", "res_id", "res_field", "store_fname", "checksum",
	"file_size", "mimetype", "is_external", "is_uploaded", "created_at",
}

var created = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func ptr[T any](v T) *T { return &v }

func TestCreate_ReturnsIDAndTimestamp(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO attachments \(name, res_model, res_id, res_field, store_fname, .*\) VALUES .* RETURNING id, created_at`).
		WithArgs("a.pdf", "mail.message", int64(7), nil, "ab/abcd", "abcd", int64(3), "application/pdf", true, false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), created))

	got, err := repo.Create(context.Background(), &models.Attachment{
		Name:       "a.pdf",
		ResModel:   "mail.message",
		ResID:      ptr(int64(7)),
		StoreFname: "ab/abcd",
		Checksum:   "abcd",
		FileSize:   3,
		Mimetype:   "application/pdf",
		IsExternal: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != 42 || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO attachments`).WillReturnError(errors.New("boom"))

	if _, err := repo.Create(context.Background(), &models.Attachment{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetByID_FoundAndNullable(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, name, .* FROM attachments WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(attachmentCols).
			AddRow(int64(5), "n", "res.partner", nil, "image_1920", "ab/abcd", "abcd", int64(1), "image/png", false, false, created))

	got, err := repo.GetByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &models.Attachment{
		ID: 5, Name: "n", ResModel: "res.partner", ResField: ptr("image_1920"),
		StoreFname: "ab/abcd", Checksum: "abcd", FileSize: 1, Mimetype: "image/png", CreatedAt: created,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM attachments WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(attachmentCols))

	_, err := repo.GetByID(context.Background(), 9)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFindByKeyAndFlags_BuildsFilters(t *testing.T) {
	tests := []struct {
		name     string
		external *bool
		uploaded *bool
		pattern  string
		args     []driver.Value
	}{
		{
			name:    "no flags",
			pattern: `FROM attachments WHERE store_fname = \$1 ORDER BY id`,
			args:    []driver.Value{"ab/abcd"},
		},
		{
			name:     "external only",
			external: ptr(true),
			pattern:  `WHERE store_fname = \$1 AND COALESCE\(is_external, FALSE\) = \$2 ORDER BY id`,
			args:     []driver.Value{"ab/abcd", true},
		},
		{
			name:     "both",
			external: ptr(true),
			uploaded: ptr(false),
			pattern:  `WHERE store_fname = \$1 AND COALESCE\(is_external, FALSE\) = \$2 AND is_uploaded = \$3 ORDER BY id`,
			args:     []driver.Value{"ab/abcd", true, false},
		},
		{
			name:     "uploaded only",
			uploaded: ptr(true),
			pattern:  `WHERE store_fname = \$1 AND is_uploaded = \$2 ORDER BY id`,
			args:     []driver.Value{"ab/abcd", true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			mock.ExpectQuery(tt.pattern).
				WithArgs(tt.args...).
				WillReturnRows(sqlmock.NewRows(attachmentCols).
					AddRow(int64(1), "x", "m", nil, nil, "ab/abcd", "abcd", int64(1), "text/plain", true, false, created).
					AddRow(int64(2), "y", "m", nil, nil, "ab/abcd", "abcd", int64(1), "text/plain", true, false, created))

			got, err := repo.FindByKeyAndFlags(context.Background(), "ab/abcd", tt.external, tt.uploaded)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
				t.Fatalf("unexpected rows: %+v", got)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestFindByKey_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM attachments WHERE store_fname`).WillReturnError(errors.New("down"))

	if _, err := repo.FindByKey(context.Background(), "ab/abcd"); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpdateContent(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE attachments SET store_fname = NULLIF\(\$2, ''\), checksum = \$3, file_size = \$4, mimetype = \$5 WHERE id = \$1`).
		WithArgs(int64(3), "cd/cdef", "cdef", int64(10), "text/plain").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateContent(context.Background(), &models.Attachment{
		ID: 3, StoreFname: "cd/cdef", Checksum: "cdef", FileSize: 10, Mimetype: "text/plain",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClearUploadedAndSetExternal_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE attachments SET is_uploaded = FALSE WHERE id = \$1`).
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE attachments SET is_external = \$2 WHERE id = \$1`).
		WithArgs(int64(8), true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ClearUploaded(context.Background(), 8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := repo.SetExternal(context.Background(), 8, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDelete_ReturnsRows(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`DELETE FROM attachments WHERE id IN \(\$1, \$2\) RETURNING id, COALESCE\(store_fname, ''\), COALESCE\(is_external, FALSE\)`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "store_fname", "is_external"}).
			AddRow(int64(1), "ab/abcd", true).
			AddRow(int64(2), "", false))

	got, err := repo.Delete(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []DeletedRow{{ID: 1, StoreFname: "ab/abcd", IsExternal: true}, {ID: 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDelete_Empty(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	got, err := repo.Delete(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("want nil, nil; got %v, %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}

func TestSelectPendingUpload(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE is_external IS TRUE AND is_uploaded IS FALSE AND store_fname IS NOT NULL AND id > \$1 ORDER BY id LIMIT \$2`).
		WithArgs(int64(100), 50).
		WillReturnRows(sqlmock.NewRows(attachmentCols).
			AddRow(int64(101), "x", "m", nil, nil, "ab/abcd", "abcd", int64(1), "text/plain", true, false, created))

	got, err := repo.SelectPendingUpload(context.Background(), 100, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != 101 {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestWhitelists_Conditions(t *testing.T) {
	tests := []struct {
		name string
		call func(r *PostgresRepository, keys []string) (KeySet, error)
		cond string
	}{
		{"local", func(r *PostgresRepository, keys []string) (KeySet, error) {
			return r.LocalWhitelist(context.Background(), keys)
		}, `\(is_external IS NOT TRUE OR is_uploaded IS FALSE\)`},
		{"remote", func(r *PostgresRepository, keys []string) (KeySet, error) {
			return r.RemoteWhitelist(context.Background(), keys)
		}, `is_external IS TRUE$`},
		{"pending", func(r *PostgresRepository, keys []string) (KeySet, error) {
			return r.PendingUploadKeys(context.Background(), keys)
		}, `is_external IS TRUE AND is_uploaded IS FALSE`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			mock.ExpectQuery(`SELECT DISTINCT store_fname FROM attachments WHERE store_fname IN \(\$1, \$2\) AND ` + tt.cond).
				WithArgs("ab/a", "cd/c").
				WillReturnRows(sqlmock.NewRows([]string{"store_fname"}).AddRow("cd/c"))

			set, err := tt.call(repo, []string{"ab/a", "cd/c"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if set.Has("ab/a") || !set.Has("cd/c") {
				t.Fatalf("unexpected set: %v", set)
			}
		})
	}
}

func TestWhitelist_ChunksLargeInputs(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	keys := make([]string, maxParams+5)
	for i := range keys {
		keys[i] = fmt.Sprintf("%02x/%d", i%256, i)
	}
	mock.ExpectQuery(`store_fname IN \(\$1, .*\$1000\)`).
		WillReturnRows(sqlmock.NewRows([]string{"store_fname"}).AddRow(keys[0]))
	mock.ExpectQuery(`store_fname IN \(\$1, \$2, \$3, \$4, \$5\)`).
		WillReturnRows(sqlmock.NewRows([]string{"store_fname"}).AddRow(keys[maxParams+4]))

	set, err := repo.RemoteWhitelist(context.Background(), keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("want 2 keys, got %d", len(set))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWhitelist_EmptyKeysNoQuery(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	set, err := repo.LocalWhitelist(context.Background(), nil)
	if err != nil || len(set) != 0 {
		t.Fatalf("want empty set, got %v, %v", set, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}

func TestMarkUploaded_UpdatesAllExternalRowsForKey(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE attachments SET is_uploaded = TRUE WHERE store_fname = \$1 AND is_external IS TRUE`).
		WithArgs("ab/abcd").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkUploaded(context.Background(), "ab/abcd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3 rows, got %d", n)
	}
}

func TestLockShared_MapsTimeout(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`SET LOCAL lock_timeout TO '10000ms'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`LOCK TABLE "attachments" IN SHARE MODE`).
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})

	err := repo.LockShared(context.Background(), 10*time.Second)
	if !errors.Is(err, dbx.ErrLockTimeout) {
		t.Fatalf("want ErrLockTimeout, got %v", err)
	}
}
