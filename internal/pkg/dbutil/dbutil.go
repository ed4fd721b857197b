package dbutil

import (
	"github.com/jmoiron/sqlx"
)

// Finalize rebinds gendry's MySQL-style ? placeholders to Postgres $N.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}
