package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/letsencrypt/borp"
)

// txFunc represents the work we want to do within a transaction, rather
// than calling Begin/Rollback/Commit ourselves.
type txFunc func(txWithCtx Executor) (interface{}, error)

// WithTransaction runs the given function in a transaction, rolling back
// if it returns an error and committing if not. The provided context is
// applied to the transaction for all operations performed inside f.
func WithTransaction(ctx context.Context, dbMap *borp.DbMap, f txFunc) (interface{}, error) {
	tx, err := dbMap.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	result, err := f(tx)
	if err != nil {
		return nil, rollback(tx, err)
	}
	err = tx.Commit()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// rollback rolls back the provided transaction. If the rollback fails for
// any reason a `RollbackError` error is returned wrapping the original
// error.
func rollback(tx *borp.Transaction, err error) error {
	if txErr := tx.Rollback(); txErr != nil {
		return &RollbackError{
			Err:         err,
			RollbackErr: txErr,
		}
	}
	return err
}

// RollbackError is a combination of a database error and the error, if
// any, encountered while trying to roll back the transaction.
type RollbackError struct {
	Err         error
	RollbackErr error
}

// Error implements the error interface
func (re *RollbackError) Error() string {
	if re.RollbackErr == nil {
		return re.Err.Error()
	}
	return fmt.Sprintf("%s (also, while rolling back: %s)", re.Err, re.RollbackErr)
}

// IsNoRows matches the error returned by borp's SelectOne when a query
// legitimately yields no rows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

const mysqlDuplicateEntryErrNum = 1062

// IsDuplicate matches errors caused by the MySQL duplicate-entry error
// (1062) that a violated unique index produces.
func IsDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntryErrNum
	}
	return false
}
