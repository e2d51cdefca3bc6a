package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

var (
	// ErrDuplicate is returned when a batch, job or suggestion id is already taken.
	ErrDuplicate = models.ErrDuplicate

	// ErrTransactionConflict is returned when two runners claim from the same
	// batch at once. The losing claim takes nothing and tries again next tick.
	ErrTransactionConflict = errors.New("transaction conflict")
)

var queryErrorPatterns = []struct {
	fragment string
	sentinel error
}{
	{"already exists", ErrDuplicate},
	{"Transaction conflict", ErrTransactionConflict},
	{"Resource busy", ErrTransactionConflict},
}

// wrapQueryError tags a SurrealDB query error with the matching sentinel.
// Other errors pass through unchanged.
func wrapQueryError(err error) error {
	var queryErr *surrealdb.QueryError
	if !errors.As(err, &queryErr) {
		return err
	}
	for _, p := range queryErrorPatterns {
		if strings.Contains(queryErr.Message, p.fragment) {
			return fmt.Errorf("%w: %s", p.sentinel, queryErr.Message)
		}
	}
	return err
}

// lostRace reports whether err means a concurrent runner won the same claim.
func lostRace(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}
