package database

import (
	"context"
	"fmt"

	"crm-backend/internal/models"
)

// InsertOrder stores an order and folds it into the customer's aggregates in
// one transaction: total spending grows by the amount, the visit count by one,
// and last visit moves forward to the order date when it is newer.
func (db *DB) InsertOrder(ctx context.Context, o models.Order) error {
	insertQuery, err := db.query("insert-order")
	if err != nil {
		return err
	}
	applyQuery, err := db.query("apply-order-to-customer")
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	orderDate := formatTime(o.OrderDate)

	res, err := tx.ExecContext(ctx, applyQuery, o.Amount, orderDate, orderDate, o.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to update customer aggregates: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update customer aggregates: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, insertQuery, o.ID, o.CustomerID, o.Amount, orderDate); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type orderRow struct {
	ID         string  `db:"id"`
	CustomerID string  `db:"customer_id"`
	Amount     float64 `db:"amount"`
	OrderDate  string  `db:"order_date"`
}

// ListOrders returns a customer's orders, newest first.
func (db *DB) ListOrders(ctx context.Context, customerID string) ([]models.Order, error) {
	query, err := db.query("list-orders-by-customer")
	if err != nil {
		return nil, err
	}

	var rows []orderRow
	if err := db.conn.SelectContext(ctx, &rows, query, customerID); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		orderDate, err := parseTime("order_date", row.OrderDate)
		if err != nil {
			return nil, err
		}
		orders = append(orders, models.Order{
			ID:         row.ID,
			CustomerID: row.CustomerID,
			Amount:     row.Amount,
			OrderDate:  orderDate,
		})
	}

	return orders, nil
}
