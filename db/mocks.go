package db

import (
	"context"
	"database/sql"
)

// These interfaces exist to aid in mocking database operations for unit
// tests.

// A `OneSelector` is anything that provides a `SelectOne` function.
type OneSelector interface {
	SelectOne(context.Context, interface{}, string, ...interface{}) error
}

// A `Selector` is anything that provides a `Select` function.
type Selector interface {
	Select(context.Context, interface{}, string, ...interface{}) ([]interface{}, error)
}

// An `Inserter` is anything that provides an `Insert` function
type Inserter interface {
	Insert(context.Context, ...interface{}) error
}

// An `Execer` is anything that provides an `Exec` function
type Execer interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}

// SelectExecer offers a subset of borp.SqlExecutor's methods: Select and
// Exec.
type SelectExecer interface {
	Selector
	Execer
}

// Executor offers the full combination of OneSelector, Inserter,
// SelectExecer and a handful of other borp.SqlExecutor methods that are
// needed inside transactions.
type Executor interface {
	OneSelector
	Inserter
	SelectExecer
	Delete(context.Context, ...interface{}) (int64, error)
	Get(context.Context, interface{}, ...interface{}) (interface{}, error)
	Update(context.Context, ...interface{}) (int64, error)
}
