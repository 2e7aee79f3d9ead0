package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrChargeFailed is a non-duplicate ledger write failure.
	ErrChargeFailed   = errors.New("charge ledger write failed")
	ErrOrderNotFound  = errors.New("order not found")
	ErrSellerNotFound = errors.New("seller not found")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
