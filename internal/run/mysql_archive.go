package run

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"AgentCanvas/deploy/migrations"
	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/reconcile"
)

// MySQLConfig 是 MySQL 归档的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLArchive 将运行快照写入 MySQL 的 run_archive 表。
type MySQLArchive struct {
	db *sql.DB
}

// NewMySQLArchive 建立连接并执行内嵌的迁移。
func NewMySQLArchive(ctx context.Context, cfg MySQLConfig) (*MySQLArchive, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 MySQL DSN 失败")
	}
	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 MySQL 连接器失败")
	}

	db := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	archive := &MySQLArchive{db: db}
	if err := archive.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移失败")
	}
	return archive, nil
}

const upsertEntrySQL = `INSERT INTO run_archive
    (run_id, workflow_id, status, reason, items, snapshot, started_at, finished_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE workflow_id = VALUES(workflow_id), status = VALUES(status), reason = VALUES(reason),
    items = VALUES(items), snapshot = VALUES(snapshot), started_at = VALUES(started_at), finished_at = VALUES(finished_at)`

const selectEntrySQL = `SELECT run_id, workflow_id, status, reason, items, snapshot, started_at, finished_at FROM run_archive`

// Save 写入或覆盖归档记录。
func (a *MySQLArchive) Save(ctx context.Context, entry Entry) error {
	if entry.RunID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id is empty")
	}
	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码运行快照失败")
	}
	items, err := json.Marshal(entry.Items)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码运行条目失败")
	}
	_, err = a.db.ExecContext(ctx, upsertEntrySQL,
		entry.RunID,
		entry.WorkflowID,
		string(entry.Status),
		entry.Reason,
		string(items),
		string(snapshot),
		entry.StartedAt.UnixMilli(),
		entry.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入运行归档失败")
	}
	return nil
}

// Get 返回归档记录。
func (a *MySQLArchive) Get(ctx context.Context, runID string) (*Entry, error) {
	row := a.db.QueryRowContext(ctx, selectEntrySQL+` WHERE run_id = ?`, runID)
	entry, err := scanEntry(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(CodeRunNotFound, "", xerrors.WithMetadata("run_id", runID))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行归档失败")
	}
	return entry, nil
}

// List 按结束时间倒序返回最多 limit 条记录。
func (a *MySQLArchive) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, selectEntrySQL+` ORDER BY finished_at DESC, run_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行归档失败")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析运行归档失败")
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历运行归档失败")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry               Entry
		status              string
		reason, items       sql.NullString
		snapshot            string
		startedAt, finished int64
	)
	if err := row.Scan(&entry.RunID, &entry.WorkflowID, &status, &reason, &items, &snapshot, &startedAt, &finished); err != nil {
		return nil, err
	}
	entry.Status = reconcile.RunStatus(status)
	entry.Reason = reason.String
	if items.Valid && items.String != "" && items.String != "null" {
		if err := json.Unmarshal([]byte(items.String), &entry.Items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(snapshot), &entry.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	entry.StartedAt = time.UnixMilli(startedAt).UTC()
	entry.FinishedAt = time.UnixMilli(finished).UTC()
	return &entry, nil
}

// Close 关闭数据库连接。
func (a *MySQLArchive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

type migrationFile struct {
	version    string
	name       string
	statements []string
}

func (a *MySQLArchive) runMigrations(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied, err := a.loadAppliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := loadMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, m := range files {
		if _, ok := applied[m.version]; ok {
			continue
		}
		if err := a.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (a *MySQLArchive) loadAppliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	return applied, nil
}

func (a *MySQLArchive) applyMigration(ctx context.Context, m migrationFile) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("执行迁移 %s 失败: %w", m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now().Unix()); err != nil {
		tx.Rollback()
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

func loadMigrationFiles(files fs.ReadFileFS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	var out []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		out = append(out, migrationFile{version: parseMigrationVersion(name), name: name, statements: statements})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].version == out[j].version {
			return out[i].name < out[j].name
		}
		return out[i].version < out[j].version
	})
	return out, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func parseMigrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}

var _ Archive = (*MySQLArchive)(nil)
