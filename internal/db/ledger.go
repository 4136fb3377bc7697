package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	KindIncome  = "income"
	KindExpense = "expense"
)

var (
	ErrProfileNotFound  = errors.New("business profile not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryInUse    = errors.New("category is referenced by transactions")
)

// BusinessProfile is one bookkeeping entity. A single-operator install
// usually has exactly one.
type BusinessProfile struct {
	ID        string
	Name      string
	CreatedAt int64
}

// Category labels expense transactions.
type Category struct {
	ID        string
	Name      string
	CreatedAt int64
}

// Transaction is one ledger record. Amounts are stored in cents to avoid
// floating point drift.
type Transaction struct {
	ID          string
	ProfileID   string
	Kind        string
	AmountCents int64
	CategoryID  sql.NullString
	Note        string
	CreatedAt   int64
}

// Summary aggregates a period of transactions.
type Summary struct {
	IncomeCents  int64
	ExpenseCents int64
	IncomeCount  int
	ExpenseCount int
}

// NetCents returns income minus expense for the period.
func (s Summary) NetCents() int64 {
	return s.IncomeCents - s.ExpenseCents
}

// Count returns the total number of transactions in the period.
func (s Summary) Count() int {
	return s.IncomeCount + s.ExpenseCount
}

// Store wraps ledger queries over an open database handle.
type Store struct {
	DB *sql.DB
}

// EnsureProfile returns the profile with the given name, creating it on
// first use.
func (s *Store) EnsureProfile(name string) (*BusinessProfile, error) {
	profile, err := s.profileByName(name)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	id := uuid.NewString()
	if _, err := s.DB.Exec(
		`INSERT INTO business_profiles (id, name) VALUES (?, ?)`, id, name,
	); err != nil {
		return nil, fmt.Errorf("create business profile %s: %w", name, err)
	}
	return s.profileByName(name)
}

func (s *Store) profileByName(name string) (*BusinessProfile, error) {
	var p BusinessProfile
	err := s.DB.QueryRow(
		`SELECT id, name, created_at FROM business_profiles WHERE name = ?`, name,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ProfileByName returns a profile by its unique name.
func (s *Store) ProfileByName(name string) (*BusinessProfile, error) {
	return s.profileByName(name)
}

// Profile returns a profile by id.
func (s *Store) Profile(id string) (*BusinessProfile, error) {
	var p BusinessProfile
	err := s.DB.QueryRow(
		`SELECT id, name, created_at FROM business_profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProfile removes a profile and all of its transactions.
func (s *Store) DeleteProfile(id string) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM transactions WHERE profile_id = ?`, id); err != nil {
		return fmt.Errorf("delete profile transactions: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM business_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrProfileNotFound
	}
	return tx.Commit()
}

// EnsureCategory returns the category with the given name, creating it on
// first use. Expense commands resolve their category token through this.
func (s *Store) EnsureCategory(name string) (*Category, error) {
	category, err := s.categoryByName(name)
	if err == nil {
		return category, nil
	}
	if !errors.Is(err, ErrCategoryNotFound) {
		return nil, err
	}

	id := uuid.NewString()
	if _, err := s.DB.Exec(
		`INSERT INTO categories (id, name) VALUES (?, ?)`, id, name,
	); err != nil {
		return nil, fmt.Errorf("create category %s: %w", name, err)
	}
	return s.categoryByName(name)
}

func (s *Store) categoryByName(name string) (*Category, error) {
	var c Category
	err := s.DB.QueryRow(
		`SELECT id, name, created_at FROM categories WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CategoryByName returns a category by its unique name.
func (s *Store) CategoryByName(name string) (*Category, error) {
	return s.categoryByName(name)
}

// Category returns a category by id.
func (s *Store) Category(id string) (*Category, error) {
	var c Category
	err := s.DB.QueryRow(
		`SELECT id, name, created_at FROM categories WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCategory removes a category. Categories still referenced by
// transactions are refused.
func (s *Store) DeleteCategory(id string) error {
	var refs int
	if err := s.DB.QueryRow(
		`SELECT COUNT(*) FROM transactions WHERE category_id = ?`, id,
	).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrCategoryInUse
	}

	res, err := s.DB.Exec(`DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

// CreateTransaction inserts one record and returns it. categoryID may be
// empty for income records.
func (s *Store) CreateTransaction(profileID, kind string, amountCents int64, categoryID, note string) (*Transaction, error) {
	if kind != KindIncome && kind != KindExpense {
		return nil, fmt.Errorf("invalid transaction kind: %s", kind)
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d cents", amountCents)
	}

	id := uuid.NewString()
	var category any
	if categoryID != "" {
		category = categoryID
	}
	if _, err := s.DB.Exec(
		`INSERT INTO transactions (id, profile_id, kind, amount_cents, category_id, note)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, profileID, kind, amountCents, category, note,
	); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return s.transaction(id)
}

func (s *Store) transaction(id string) (*Transaction, error) {
	var t Transaction
	err := s.DB.QueryRow(
		`SELECT id, profile_id, kind, amount_cents, category_id, note, created_at
		 FROM transactions WHERE id = ?`, id,
	).Scan(&t.ID, &t.ProfileID, &t.Kind, &t.AmountCents, &t.CategoryID, &t.Note, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListSince returns transactions created at or after the cutoff, oldest first.
func (s *Store) ListSince(cutoff time.Time) ([]Transaction, error) {
	rows, err := s.DB.Query(
		`SELECT id, profile_id, kind, amount_cents, category_id, note, created_at
		 FROM transactions WHERE created_at >= ? ORDER BY created_at ASC, rowid ASC`,
		cutoff.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.ProfileID, &t.Kind, &t.AmountCents, &t.CategoryID, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// SummarySince aggregates transactions created at or after the cutoff.
func (s *Store) SummarySince(cutoff time.Time) (Summary, error) {
	var sum Summary
	rows, err := s.DB.Query(
		`SELECT kind, COALESCE(SUM(amount_cents), 0), COUNT(*)
		 FROM transactions WHERE created_at >= ? GROUP BY kind`,
		cutoff.Unix(),
	)
	if err != nil {
		return sum, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var total int64
		var count int
		if err := rows.Scan(&kind, &total, &count); err != nil {
			return sum, err
		}
		switch kind {
		case KindIncome:
			sum.IncomeCents = total
			sum.IncomeCount = count
		case KindExpense:
			sum.ExpenseCents = total
			sum.ExpenseCount = count
		}
	}
	return sum, rows.Err()
}
