package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/fleetd/fleetd/internal/query"
)

type Engine struct {
	tables []query.Table
}

func NewEngine(tables ...query.Table) *Engine {
	return &Engine{tables: tables}
}

func (e *Engine) Register(table query.Table) {
	e.tables = append(e.tables, table)
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	conn, err := db.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("acquire duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	constraints := query.ParseConstraints(sqlText)
	for _, table := range e.tables {
		if !referencesTable(sqlText, table.Name()) {
			continue
		}
		if err := materialize(ctx, conn, table, constraints); err != nil {
			return query.Result{}, err
		}
	}

	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return query.Result{}, fmt.Errorf("query column types: %w", err)
	}
	typeNames := make([]string, len(columnTypes))
	for i, columnType := range columnTypes {
		typeNames[i] = columnType.DatabaseTypeName()
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values, typeNames))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func materialize(ctx context.Context, conn *sql.Conn, table query.Table, constraints query.Constraints) error {
	columns := table.Columns()
	if len(columns) == 0 {
		return fmt.Errorf("table %q has no columns", table.Name())
	}

	definitions := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	for _, column := range columns {
		definitions = append(definitions, quoteIdent(column.Name)+" "+column.Type)
		placeholders = append(placeholders, "?")
	}
	createSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s (%s)`, quoteIdent(table.Name()), strings.Join(definitions, ", "))
	if _, err := conn.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %q: %w", table.Name(), err)
	}

	rows, err := table.Generate(ctx, constraints)
	if err != nil {
		return fmt.Errorf("generate table %q: %w", table.Name(), err)
	}
	if len(rows) == 0 {
		return nil
	}

	insertSQL := fmt.Sprintf(`INSERT INTO %s VALUES (%s)`, quoteIdent(table.Name()), strings.Join(placeholders, ", "))
	stmt, err := conn.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert for table %q: %w", table.Name(), err)
	}
	defer func() { _ = stmt.Close() }()

	for index, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("table %q row %d has %d values, want %d", table.Name(), index, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert row %d into table %q: %w", index, table.Name(), err)
		}
	}
	return nil
}

func referencesTable(sqlText, name string) bool {
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
	return pattern.MatchString(sqlText)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
