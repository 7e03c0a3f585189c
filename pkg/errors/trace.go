package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Trace is a log-friendly breakdown of an error chain.
type Trace struct {
	Code     Code
	Chain    []string
	Postgres *PostgresFault
}

// PostgresFault is the server-side part of a Postgres error.
type PostgresFault struct {
	Code       string
	Message    string
	Detail     string
	Table      string
	Constraint string
}

// Fields flattens t for structured logging.
func (t Trace) Fields() map[string]any {
	fields := map[string]any{"error_chain": t.Chain}
	if t.Code != "" {
		fields["error_code"] = string(t.Code)
	}
	if pg := t.Postgres; pg != nil {
		fields["pg_code"] = pg.Code
		fields["pg_message"] = pg.Message
		fields["pg_detail"] = pg.Detail
		fields["pg_table"] = pg.Table
		fields["pg_constraint"] = pg.Constraint
	}
	return fields
}

// TraceOf walks err's Unwrap chain. Both pgx and lib/pq errors are
// recognised; goose and the gorm postgres driver surface one or the other.
func TraceOf(err error) Trace {
	var t Trace
	if err == nil {
		return t
	}
	if typed := As(err); typed != nil {
		t.Code = typed.Code()
	}
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		t.Chain = append(t.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stderrors.As(err, &pgxErr):
		t.Postgres = &PostgresFault{
			Code:       pgxErr.Code,
			Message:    pgxErr.Message,
			Detail:     pgxErr.Detail,
			Table:      pgxErr.TableName,
			Constraint: pgxErr.ConstraintName,
		}
	case stderrors.As(err, &pqErr):
		t.Postgres = &PostgresFault{
			Code:       string(pqErr.Code),
			Message:    pqErr.Message,
			Detail:     pqErr.Detail,
			Table:      pqErr.Table,
			Constraint: pqErr.Constraint,
		}
	}
	return t
}
