package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudretail/saga/internal/database"
)

// Repository is the SQL access layer for products, inventory and orders.
type Repository struct {
	db  *database.DB
	now func() time.Time
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) nowMillis() int64 {
	return database.Millis(r.now())
}

// CreateProduct inserts a product with its initial stock. A SKU that is
// already in the catalog yields ErrProductExists.
func (r *Repository) CreateProduct(ctx context.Context, p Product, stock int) (Product, error) {
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.nowMillis()
		err := tx.QueryRowContext(ctx, r.db.Rebind(`
			INSERT INTO products (sku, name, description, price_cents, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (sku) DO NOTHING
			RETURNING id`),
			p.SKU, p.Name, p.Description, p.PriceCents, now,
		).Scan(&p.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%s: %w", p.SKU, ErrProductExists)
			}
			return fmt.Errorf("insert product %s: %w", p.SKU, err)
		}

		_, err = tx.ExecContext(ctx, r.db.Rebind(`
			INSERT INTO inventory (product_id, quantity, reserved, updated_at) VALUES (?, ?, 0, ?)`),
			p.ID, stock, now,
		)
		if err != nil {
			return fmt.Errorf("insert inventory for %s: %w", p.SKU, err)
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}

	p.Available = stock
	return p, nil
}

const productColumns = `p.id, p.sku, p.name, p.description, p.price_cents, COALESCE(i.quantity, 0), COALESCE(i.reserved, 0)`

func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products p LEFT JOIN inventory i ON i.product_id = p.id
		ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.PriceCents, &p.Available, &p.Reserved); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+productColumns+`
		FROM products p LEFT JOIN inventory i ON i.product_id = p.id
		WHERE p.id = ?`), id,
	).Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.PriceCents, &p.Available, &p.Reserved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, fmt.Errorf("product %d: %w", id, ErrProductNotFound)
		}
		return Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

func (r *Repository) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// Reserve moves quantity to reserved for every item, all or nothing.
func (r *Repository) Reserve(ctx context.Context, items []Item) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.nowMillis()
		for _, it := range items {
			res, err := tx.ExecContext(ctx, r.db.Rebind(`
				UPDATE inventory
				SET quantity = quantity - ?, reserved = reserved + ?, updated_at = ?
				WHERE product_id = ? AND quantity >= ?`),
				it.Quantity, it.Quantity, now, it.ProductID, it.Quantity,
			)
			if err != nil {
				return fmt.Errorf("reserve product %d: %w", it.ProductID, err)
			}
			if err := r.checkUpdated(ctx, tx, res, it.ProductID, ErrInsufficientStock); err != nil {
				return err
			}
		}
		return nil
	})
}

// Release returns reserved units to available stock.
func (r *Repository) Release(ctx context.Context, items []Item) error {
	return r.adjust(ctx, items, `
		UPDATE inventory
		SET quantity = quantity + ?, reserved = reserved - ?, updated_at = ?
		WHERE product_id = ? AND reserved >= ?`,
		func(it Item, now int64) []any {
			return []any{it.Quantity, it.Quantity, now, it.ProductID, it.Quantity}
		})
}

// Commit turns reserved units into sold units.
func (r *Repository) Commit(ctx context.Context, items []Item) error {
	return r.adjust(ctx, items, `
		UPDATE inventory
		SET reserved = reserved - ?, updated_at = ?
		WHERE product_id = ? AND reserved >= ?`,
		func(it Item, now int64) []any {
			return []any{it.Quantity, now, it.ProductID, it.Quantity}
		})
}

// Reopen undoes Commit: sold units become reserved again.
func (r *Repository) Reopen(ctx context.Context, items []Item) error {
	return r.adjust(ctx, items, `
		UPDATE inventory
		SET reserved = reserved + ?, updated_at = ?
		WHERE product_id = ?`,
		func(it Item, now int64) []any {
			return []any{it.Quantity, now, it.ProductID}
		})
}

// adjust runs query once per item inside one transaction.
func (r *Repository) adjust(ctx context.Context, items []Item, query string, args func(Item, int64) []any) error {
	query = r.db.Rebind(query)
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.nowMillis()
		for _, it := range items {
			res, err := tx.ExecContext(ctx, query, args(it, now)...)
			if err != nil {
				return fmt.Errorf("update inventory for product %d: %w", it.ProductID, err)
			}
			if err := r.checkUpdated(ctx, tx, res, it.ProductID, errReservedTooLow); err != nil {
				return err
			}
		}
		return nil
	})
}

var errReservedTooLow = errors.New("reserved stock is lower than expected")

// checkUpdated turns a conditional update that matched no row into
// ErrProductNotFound or guardErr.
func (r *Repository) checkUpdated(ctx context.Context, tx *sql.Tx, res sql.Result, productID int64, guardErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inventory update for product %d: %w", productID, err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, r.db.Rebind(`SELECT 1 FROM inventory WHERE product_id = ?`), productID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %d: %w", productID, ErrProductNotFound)
	}
	if err != nil {
		return fmt.Errorf("inventory lookup for product %d: %w", productID, err)
	}
	return fmt.Errorf("product %d: %w", productID, guardErr)
}

// Price returns the current unit price of every product in items.
func (r *Repository) Price(ctx context.Context, items []Item) ([]OrderItem, int64, error) {
	priced := make([]OrderItem, 0, len(items))
	var total int64
	for _, it := range items {
		var price int64
		err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT price_cents FROM products WHERE id = ?`), it.ProductID).Scan(&price)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, 0, fmt.Errorf("product %d: %w", it.ProductID, ErrProductNotFound)
			}
			return nil, 0, fmt.Errorf("price product %d: %w", it.ProductID, err)
		}
		priced = append(priced, OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, PriceCents: price})
		total += price * int64(it.Quantity)
	}
	return priced, total, nil
}

// InsertOrder writes a pending order with its items.
func (r *Repository) InsertOrder(ctx context.Context, userID, sagaID string, items []OrderItem, total int64) (int64, error) {
	var id int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.nowMillis()
		err := tx.QueryRowContext(ctx, r.db.Rebind(`
			INSERT INTO orders (user_id, status, total_cents, saga_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`),
			userID, StatusPending, total, sagaID, now, now,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, it := range items {
			_, err := tx.ExecContext(ctx, r.db.Rebind(`
				INSERT INTO order_items (order_id, product_id, quantity, price_cents) VALUES (?, ?, ?, ?)`),
				id, it.ProductID, it.Quantity, it.PriceCents,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
	return id, err
}

// DeletePendingOrder removes an order that never got past pending. Orders
// in any other status are kept so cancelled orders stay visible.
func (r *Repository) DeletePendingOrder(ctx context.Context, id int64) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT status FROM orders WHERE id = ?`), id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get order %d: %w", id, err)
		}
		if status != StatusPending {
			return nil
		}

		if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM order_items WHERE order_id = ?`), id); err != nil {
			return fmt.Errorf("delete items of order %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM orders WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete order %d: %w", id, err)
		}
		return nil
	})
}

func (r *Repository) SetPayment(ctx context.Context, id int64, paymentID string) error {
	return r.updateOrder(ctx, id, `UPDATE orders SET payment_id = ?, updated_at = ? WHERE id = ?`, paymentID)
}

func (r *Repository) SetStatus(ctx context.Context, id int64, status string) error {
	return r.updateOrder(ctx, id, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, status)
}

func (r *Repository) updateOrder(ctx context.Context, id int64, query string, value string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), value, r.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("update order %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	return nil
}

const orderColumns = `id, user_id, status, total_cents, payment_id, saga_id, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var (
		o                    Order
		createdAt, updatedAt int64
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.PaymentID, &o.SagaID, &createdAt, &updatedAt); err != nil {
		return Order{}, err
	}
	o.CreatedAt = database.FromMillis(createdAt)
	o.UpdatedAt = database.FromMillis(updatedAt)
	return o, nil
}

// GetOrder returns an order with its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
		}
		return Order{}, fmt.Errorf("get order %d: %w", id, err)
	}

	if o.Items, err = r.orderItems(ctx, id); err != nil {
		return Order{}, err
	}
	return o, nil
}

// ListUserOrders returns a user's orders, newest first, with their items.
func (r *Repository) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", userID, err)
	}

	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", userID, err)
	}

	// Items are loaded after the order cursor is closed; SQLite runs on a
	// single connection.
	for i := range orders {
		if orders[i].Items, err = r.orderItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *Repository) orderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT product_id, quantity, price_cents FROM order_items WHERE order_id = ? ORDER BY id`), orderID)
	if err != nil {
		return nil, fmt.Errorf("list items of order %d: %w", orderID, err)
	}
	defer rows.Close()

	items := []OrderItem{}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.PriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
