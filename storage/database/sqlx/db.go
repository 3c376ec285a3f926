package sqlxrepos

import (
	"strconv"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// uniqueViolationCode is the postgres error code raised when an insert hits a
// unique constraint. Concurrency-critical invariants (one active attempt, one
// non-cancelled registration per pair) rest on it.
const uniqueViolationCode = "23505"

func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	if !ok {
		return false
	}
	return pqErr.Code == uniqueViolationCode && (constraint == "" || pqErr.Constraint == constraint)
}

func itoa(n int) string { return strconv.Itoa(n) }
