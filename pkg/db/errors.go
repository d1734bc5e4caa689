package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
// When constraintName is set the violated constraint must match it.
func IsUniqueViolation(err error, constraintName string) bool {
	return matchesCode(err, pgUniqueViolation, constraintName, "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return matchesCode(err, pgForeignKeyViolation, "", "FOREIGN KEY constraint failed")
}

func matchesCode(err error, code, constraint, sqliteText string) bool {
	if err == nil {
		return false
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == code && (constraint == "" || pgxErr.ConstraintName == constraint)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code && (constraint == "" || pqErr.Constraint == constraint)
	}

	msg := err.Error()
	if constraint != "" && !strings.Contains(msg, constraint) {
		return false
	}
	return strings.Contains(msg, sqliteText) || (code == pgUniqueViolation && strings.Contains(msg, "duplicate key value"))
}

// Describe extracts Postgres diagnostics for structured logging.
func Describe(err error) map[string]any {
	fields := map[string]any{}
	if err == nil {
		return fields
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		fields["pg_code"] = pgxErr.Code
		fields["pg_constraint"] = pgxErr.ConstraintName
		fields["pg_table"] = pgxErr.TableName
		fields["pg_detail"] = pgxErr.Detail
		return fields
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		fields["pg_code"] = string(pqErr.Code)
		fields["pg_constraint"] = pqErr.Constraint
		fields["pg_table"] = pqErr.Table
		fields["pg_detail"] = pqErr.Detail
	}
	return fields
}
