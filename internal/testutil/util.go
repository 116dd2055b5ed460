// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// AsOf is the fixed valuation time used across tests.
var AsOf = time.Date(2025, 1, 2, 15, 30, 0, 0, time.UTC)

// QuotesHeader is the column order of a quotes CSV.
const QuotesHeader = "underlying,type,strike,expiry,spot,price"

// WriteQuotesCSV writes the header plus rows into a temp dir and returns the path.
func WriteQuotesCSV(t *testing.T, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotes.csv")

	content := QuotesHeader + "\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write quotes file: %v", err)
	}
	return path
}

// ReadFile returns the content of path, failing the test on error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(b)
}
