package models

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/audits_backend/utils"
	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockGormDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open stub database: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open gorm over stub connection: %v", err)
	}
	return db, mock
}

func lockRow(ok int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"ok"}).AddRow(ok)
}

// GET_LOCK is session-scoped and survives COMMIT; if the release ran after
// commit the pooled connection would keep the lock and block every later
// recalculation of the audit. Expectations are ordered, so these tests pin
// the release to the live transaction.
func TestRunLockedScoringTxReleasesLockBeforeCommit(t *testing.T) {
	db, mock := newMockGormDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT GET_LOCK").WithArgs("auditscoring:7").WillReturnRows(lockRow(1))
	mock.ExpectQuery("SELECT RELEASE_LOCK").WithArgs("auditscoring:7").WillReturnRows(lockRow(1))
	mock.ExpectCommit()

	ran := false
	err := runLockedScoringTx(context.Background(), db, 7, func(tx *gorm.DB) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("callback did not run")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("lock choreography mismatch: %v", err)
	}
}

func TestRunLockedScoringTxReleasesLockBeforeRollback(t *testing.T) {
	db, mock := newMockGormDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT GET_LOCK").WithArgs("auditscoring:7").WillReturnRows(lockRow(1))
	mock.ExpectQuery("SELECT RELEASE_LOCK").WithArgs("auditscoring:7").WillReturnRows(lockRow(1))
	mock.ExpectRollback()

	boom := errors.New("recalculation failed")
	err := runLockedScoringTx(context.Background(), db, 7, func(tx *gorm.DB) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want the callback error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("lock choreography mismatch: %v", err)
	}
}

func TestRunLockedScoringTxLockNotObtained(t *testing.T) {
	db, mock := newMockGormDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT GET_LOCK").WithArgs("auditscoring:7").WillReturnRows(lockRow(0))
	mock.ExpectRollback()

	err := runLockedScoringTx(context.Background(), db, 7, func(tx *gorm.DB) error {
		t.Fatal("callback must not run without the lock")
		return nil
	})
	if !errors.Is(err, utils.ErrorRecalcInProgress) {
		t.Fatalf("error = %v, want ErrorRecalcInProgress", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("lock choreography mismatch: %v", err)
	}
}
