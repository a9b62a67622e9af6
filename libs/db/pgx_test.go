package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(dup) {
		t.Fatalf("23505 should be a unique violation")
	}
	if !IsUniqueViolation(fmt.Errorf("insert inbox event: %w", dup)) {
		t.Fatalf("wrapped 23505 should be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("connection refused")) {
		t.Fatalf("plain error is not a unique violation")
	}
	if IsUniqueViolation(nil) {
		t.Fatalf("nil error is not a unique violation")
	}
}
