package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/multierr"
)

// PGFields are the diagnostic fields Postgres reports, read from whichever
// driver produced the error.
type PGFields struct {
	Code       string `json:"pg_code,omitempty"`
	Constraint string `json:"pg_constraint,omitempty"`
	Table      string `json:"pg_table,omitempty"`
	Detail     string `json:"pg_detail,omitempty"`
	Message    string `json:"pg_message,omitempty"`
}

// PG finds the first Postgres error in the chain. pgx covers the gorm
// connection and lib/pq the goose migrator.
func PG(err error) (PGFields, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return PGFields{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return PGFields{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return PGFields{}, false
}

// SQLState is the SQLSTATE of err, empty for non-Postgres errors.
func SQLState(err error) string {
	pg, _ := PG(err)
	return pg.Code
}

// ErrorDump is the log view of an error: its code, each wrapped layer and
// the Postgres diagnostics if any.
type ErrorDump struct {
	TopMessage string      `json:"top_message"`
	Code       Code        `json:"code,omitempty"`
	Chain      []string    `json:"chain,omitempty"`
	Joined     []ErrorDump `json:"joined,omitempty"`
	PGFields
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if parts := multierr.Errors(err); len(parts) > 1 {
		d.Joined = make([]ErrorDump, 0, len(parts))
		for _, part := range parts {
			d.Joined = append(d.Joined, Dump(part))
		}
	}
	d.PGFields, _ = PG(err)
	return d
}
