package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crm-backend/internal/models"
	"crm-backend/internal/rules"
)

type customerRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	Email         string         `db:"email"`
	Phone         string         `db:"phone"`
	TotalSpending float64        `db:"total_spending"`
	VisitCount    int            `db:"visit_count"`
	LastVisit     sql.NullString `db:"last_visit"`
	CreatedAt     string         `db:"created_at"`
}

func (r customerRow) toModel() (models.Customer, error) {
	c := models.Customer{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		Phone:         r.Phone,
		TotalSpending: r.TotalSpending,
		VisitCount:    r.VisitCount,
	}

	var err error
	if c.CreatedAt, err = parseTime("created_at", r.CreatedAt); err != nil {
		return models.Customer{}, err
	}
	if r.LastVisit.Valid {
		lastVisit, err := parseTime("last_visit", r.LastVisit.String)
		if err != nil {
			return models.Customer{}, err
		}
		c.LastVisit = &lastVisit
	}

	return c, nil
}

func customersFromRows(rows []customerRow) ([]models.Customer, error) {
	customers := make([]models.Customer, 0, len(rows))
	for _, row := range rows {
		c, err := row.toModel()
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, nil
}

// InsertCustomer stores a new customer with zeroed aggregates.
func (db *DB) InsertCustomer(ctx context.Context, c models.Customer) error {
	query, err := db.query("insert-customer")
	if err != nil {
		return err
	}

	if _, err := db.conn.ExecContext(ctx, query, c.ID, c.Name, c.Email, c.Phone, formatTime(c.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}

	return nil
}

// GetCustomer returns a customer by id.
func (db *DB) GetCustomer(ctx context.Context, id string) (models.Customer, error) {
	query, err := db.query("get-customer")
	if err != nil {
		return models.Customer{}, err
	}

	var row customerRow
	if err := db.conn.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Customer{}, ErrNotFound
		}
		return models.Customer{}, fmt.Errorf("failed to get customer: %w", err)
	}

	return row.toModel()
}

// ListCustomers returns all customers in creation order.
func (db *DB) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	query, err := db.query("list-customers")
	if err != nil {
		return nil, err
	}

	var rows []customerRow
	if err := db.conn.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	return customersFromRows(rows)
}

// EmailExists reports whether a customer already uses the email address.
func (db *DB) EmailExists(ctx context.Context, email string) (bool, error) {
	query, err := db.query("count-customers-by-email")
	if err != nil {
		return false, err
	}

	var count int
	if err := db.conn.GetContext(ctx, &count, query, email); err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}

	return count > 0, nil
}

// CountAudience counts the customers matching a compiled filter.
func (db *DB) CountAudience(ctx context.Context, filter rules.Filter) (int, error) {
	where, args := filter.SQL()
	query := db.conn.Rebind("SELECT COUNT(*) FROM customers WHERE " + where)

	var count int
	if err := db.conn.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count audience: %w", err)
	}

	return count, nil
}

// ListAudience returns the customers matching a compiled filter in creation
// order. A limit of zero or less returns every match.
func (db *DB) ListAudience(ctx context.Context, filter rules.Filter, limit int) ([]models.Customer, error) {
	where, args := filter.SQL()
	query := `SELECT id, name, email, phone, total_spending, visit_count, last_visit, created_at
		FROM customers
		WHERE ` + where + `
		ORDER BY created_at, id`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []customerRow
	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list audience: %w", err)
	}

	return customersFromRows(rows)
}
