package run

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentCanvas/deploy/migrations"
	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/reconcile"
)

func TestMySQLArchiveRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(t), mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	archive := &MySQLArchive{db: db}
	require.NoError(t, archive.runMigrations(context.Background()))
}

func TestMySQLArchiveSkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	archive := &MySQLArchive{db: db}
	require.NoError(t, archive.runMigrations(context.Background()))
}

func TestMySQLArchiveSaveAndGet(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	snapshot := reconcile.Snapshot{
		Status: reconcile.RunCompleted,
		Responses: []reconcile.Record{{
			Step: reconcile.Step{ItemID: "A", Name: "Search", Status: reconcile.StatusSuccess, Message: "found"},
		}},
	}
	encoded, err := json.Marshal(snapshot)
	require.NoError(t, err)

	ops := []mockOperation{
		execOp(upsertEntrySQL, mockResult{rowsAffected: 1}),
		queryOp(selectEntrySQL+` WHERE run_id = ?`, mockRowsData{
			columns: []string{"run_id", "workflow_id", "status", "reason", "items", "snapshot", "started_at", "finished_at"},
			values: [][]driver.Value{{
				"run-1", "wf-1", "completed", "", `["A"]`, string(encoded), started.UnixMilli(), finished.UnixMilli(),
			}},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	archive := &MySQLArchive{db: db}
	require.NoError(t, archive.Save(context.Background(), Entry{
		RunID:      "run-1",
		WorkflowID: "wf-1",
		Status:     reconcile.RunCompleted,
		Items:      []string{"A"},
		Snapshot:   snapshot,
		StartedAt:  started,
		FinishedAt: finished,
	}))

	got, err := archive.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, reconcile.RunCompleted, got.Status)
	assert.Equal(t, []string{"A"}, got.Items)
	assert.True(t, finished.Equal(got.FinishedAt))
	require.Len(t, got.Snapshot.Responses, 1)
	assert.Equal(t, "found", got.Snapshot.Responses[0].Message)
}

func TestMySQLArchiveGetMissing(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		queryOp(selectEntrySQL+` WHERE run_id = ?`, mockRowsData{
			columns: []string{"run_id", "workflow_id", "status", "reason", "items", "snapshot", "started_at", "finished_at"},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	archive := &MySQLArchive{db: db}
	_, err := archive.Get(context.Background(), "ghost")
	assert.Equal(t, CodeRunNotFound, xerrors.CodeOf(err))
}

func TestMySQLArchiveSaveFailure(t *testing.T) {
	t.Parallel()

	op := execOp(upsertEntrySQL, mockResult{})
	op.err = fmt.Errorf("connection reset")
	db, drv := newMockDB(t, []mockOperation{op})
	defer drv.assertConsumed(t)
	defer db.Close()

	archive := &MySQLArchive{db: db}
	err := archive.Save(context.Background(), Entry{RunID: "run-1", Status: reconcile.RunError})
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
}

func TestMySQLArchiveRequiresDSN(t *testing.T) {
	_, err := NewMySQLArchive(context.Background(), MySQLConfig{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func readMigrationStatement(t *testing.T) string {
	t.Helper()
	content, err := migrations.Files.ReadFile("0001_run_archive.sql")
	require.NoError(t, err)
	statements := splitSQLStatements(string(content))
	require.NotEmpty(t, statements)
	return statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-archive-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()
	assert.Equal(t, len(d.ops), int(atomic.LoadInt32(&d.idx)), "not all operations consumed")
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
