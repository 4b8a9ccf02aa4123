package db

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"

	"github.com/i-bosquet/petconnect/test"
)

func TestIsDuplicate(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'AHC-0001' for key 'certificateNumber'"}
	test.Assert(t, IsDuplicate(dup), "1062 should be a duplicate")
	test.Assert(t, IsDuplicate(fmt.Errorf("inserting: %w", dup)), "wrapped 1062 should be a duplicate")

	test.Assert(t, !IsDuplicate(&mysql.MySQLError{Number: 1452}), "other MySQL errors are not duplicates")
	test.Assert(t, !IsDuplicate(errors.New("nope")), "plain errors are not duplicates")
	test.Assert(t, !IsDuplicate(nil), "nil is not a duplicate")
}

func TestIsNoRows(t *testing.T) {
	test.Assert(t, IsNoRows(sql.ErrNoRows), "sql.ErrNoRows should match")
	test.Assert(t, IsNoRows(fmt.Errorf("selecting: %w", sql.ErrNoRows)), "wrapped sql.ErrNoRows should match")
	test.Assert(t, !IsNoRows(errors.New("nope")), "plain errors should not match")
}

func TestRollbackErrorMessage(t *testing.T) {
	re := &RollbackError{Err: errors.New("insert failed"), RollbackErr: errors.New("conn closed")}
	test.AssertContains(t, re.Error(), "insert failed")
	test.AssertContains(t, re.Error(), "conn closed")

	bare := &RollbackError{Err: errors.New("insert failed")}
	test.AssertEquals(t, bare.Error(), "insert failed")
}
