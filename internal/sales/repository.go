package sales

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists sales documents. Calls join the transaction in ctx. Update methods
// replace a document's lines and return it with fresh line ids.
type Repository interface {
	// Sale orders
	CreateOrder(ctx context.Context, order SaleOrder) (SaleOrder, error)
	GetOrder(ctx context.Context, id int64) (SaleOrder, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]SaleOrder, error)
	UpdateOrder(ctx context.Context, order SaleOrder) (SaleOrder, error)
	DeleteOrder(ctx context.Context, id int64) error

	// Sale returns
	CreateReturn(ctx context.Context, ret SaleReturn) (SaleReturn, error)
	GetReturn(ctx context.Context, id int64) (SaleReturn, error)
	ListReturns(ctx context.Context, orderID int64) ([]SaleReturn, error)
	UpdateReturn(ctx context.Context, ret SaleReturn) (SaleReturn, error)
	DeleteReturn(ctx context.Context, id int64) error
	SettledReturns(ctx context.Context, orderID int64) ([]ReturnedQty, error)

	// Customer orders
	CreateCustomerOrder(ctx context.Context, order CustomerOrder) (CustomerOrder, error)
	GetCustomerOrder(ctx context.Context, id int64) (CustomerOrder, error)
	ListCustomerOrders(ctx context.Context, filter ListFilter) ([]CustomerOrder, error)
	UpdateCustomerOrder(ctx context.Context, order CustomerOrder) (CustomerOrder, error)
	DeleteCustomerOrder(ctx context.Context, id int64) error

	// Customer returns
	CreateCustomerReturn(ctx context.Context, ret CustomerReturn) (CustomerReturn, error)
	GetCustomerReturn(ctx context.Context, id int64) (CustomerReturn, error)
	ListCustomerReturns(ctx context.Context, orderID int64) ([]CustomerReturn, error)
	UpdateCustomerReturn(ctx context.Context, ret CustomerReturn) (CustomerReturn, error)
	DeleteCustomerReturn(ctx context.Context, id int64) error
	SettledCustomerReturns(ctx context.Context, orderID int64) ([]ReturnedQty, error)
}

type repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

func (r *repository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repository) selectOne(ctx context.Context, dst any, q squirrel.SelectBuilder, entity string, id int64) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return err
	}
	if err := pgxscan.Get(ctx, r.conn(ctx), dst, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return shared.NotFound(entity, id)
		}
		return fmt.Errorf("sales: get %s %d: %w", entity, id, err)
	}
	return nil
}

func (r *repository) selectMany(ctx context.Context, dst any, q squirrel.SelectBuilder, what string) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return err
	}
	if err := pgxscan.Select(ctx, r.conn(ctx), dst, sql, args...); err != nil {
		return fmt.Errorf("sales: list %s: %w", what, err)
	}
	return nil
}

func (r *repository) exec(ctx context.Context, what string, sql string, args ...any) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("sales: %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(what, args[0])
	}
	return nil
}

func (r *repository) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}
	if err := r.conn(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("sales: insert %s: %w", what, err)
	}
	return nil
}

func applyFilter(q squirrel.SelectBuilder, partnerColumn, dateColumn string, f ListFilter) squirrel.SelectBuilder {
	if f.PartnerID > 0 {
		q = q.Where(squirrel.Eq{partnerColumn: f.PartnerID})
	}
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{dateColumn: *f.From})
	}
	if f.To != nil {
		q = q.Where(squirrel.LtOrEq{dateColumn: *f.To})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return q.OrderBy(dateColumn+" DESC", "id DESC")
}

// ============================================================================
// SALE ORDERS
// ============================================================================

var orderColumns = []string{"id", "reference", "salesperson_id", "receivable_account_id", "order_date", "rate", "total", "status", "created_at", "updated_at"}

var orderLineColumns = []string{"id", "order_id", "product_id", "qty", "price", "discount_qty", "discount", "commission", "subtotal", "cost"}

func (r *repository) insertOrderLines(ctx context.Context, order *SaleOrder) error {
	batch := &pgx.Batch{}
	for i := range order.Lines {
		l := &order.Lines[i]
		l.OrderID = order.ID
		batch.Queue(`INSERT INTO sale_order_lines (order_id, product_id, qty, price, discount_qty, discount, commission, subtotal, cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			l.OrderID, l.ProductID, l.Qty, l.Price, l.DiscountQty, l.Discount, l.Commission, l.Subtotal, l.Cost).
			QueryRow(func(row pgx.Row) error { return row.Scan(&l.ID) })
	}
	return r.sendBatch(ctx, batch, "sale order lines")
}

func (r *repository) CreateOrder(ctx context.Context, order SaleOrder) (SaleOrder, error) {
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO sale_orders (reference, salesperson_id, receivable_account_id, order_date, rate, total, status)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		order.Reference, order.SalespersonID, order.ReceivableAccountID, order.OrderDate, order.Rate, order.Total, order.Status).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return SaleOrder{}, fmt.Errorf("sales: create order %s: %w", order.Reference, err)
	}
	if err := r.insertOrderLines(ctx, &order); err != nil {
		return SaleOrder{}, err
	}
	return order, nil
}

func (r *repository) GetOrder(ctx context.Context, id int64) (SaleOrder, error) {
	var order SaleOrder
	if err := r.selectOne(ctx, &order, r.builder.Select(orderColumns...).From("sale_orders").Where(squirrel.Eq{"id": id}), "sale order", id); err != nil {
		return SaleOrder{}, err
	}
	q := r.builder.Select(orderLineColumns...).From("sale_order_lines").Where(squirrel.Eq{"order_id": id}).OrderBy("id")
	if err := r.selectMany(ctx, &order.Lines, q, "sale order lines"); err != nil {
		return SaleOrder{}, err
	}
	return order, nil
}

func (r *repository) ListOrders(ctx context.Context, filter ListFilter) ([]SaleOrder, error) {
	var out []SaleOrder
	q := applyFilter(r.builder.Select(orderColumns...).From("sale_orders"), "salesperson_id", "order_date", filter)
	err := r.selectMany(ctx, &out, q, "sale orders")
	return out, err
}

func (r *repository) UpdateOrder(ctx context.Context, order SaleOrder) (SaleOrder, error) {
	err := r.conn(ctx).QueryRow(ctx, `UPDATE sale_orders SET order_date=$2, rate=$3, total=$4, updated_at=NOW() WHERE id=$1 RETURNING updated_at`,
		order.ID, order.OrderDate, order.Rate, order.Total).Scan(&order.UpdatedAt)
	if err != nil {
		if pgxscan.NotFound(err) {
			return SaleOrder{}, shared.NotFound("sale order", order.ID)
		}
		return SaleOrder{}, fmt.Errorf("sales: update order %d: %w", order.ID, err)
	}
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM sale_order_lines WHERE order_id=$1`, order.ID); err != nil {
		return SaleOrder{}, fmt.Errorf("sales: replace order lines %d: %w", order.ID, err)
	}
	if err := r.insertOrderLines(ctx, &order); err != nil {
		return SaleOrder{}, err
	}
	return order, nil
}

func (r *repository) DeleteOrder(ctx context.Context, id int64) error {
	return r.exec(ctx, "sale order", `DELETE FROM sale_orders WHERE id=$1`, id)
}

// ============================================================================
// SALE RETURNS
// ============================================================================

var returnColumns = []string{"id", "reference", "order_id", "return_date", "status", "amount", "confirmed_at", "created_at"}

var returnLineColumns = []string{"id", "return_id", "order_line_id", "product_id", "qty", "price", "discount_qty", "discount", "commission", "subtotal", "cost"}

func (r *repository) insertReturnLines(ctx context.Context, table string, returnID int64, lines []ReturnLine) error {
	batch := &pgx.Batch{}
	for i := range lines {
		l := &lines[i]
		l.ReturnID = returnID
		batch.Queue(`INSERT INTO `+table+` (return_id, order_line_id, product_id, qty, price, discount_qty, discount, commission, subtotal, cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
			l.ReturnID, l.OrderLineID, l.ProductID, l.Qty, l.Price, l.DiscountQty, l.Discount, l.Commission, l.Subtotal, l.Cost).
			QueryRow(func(row pgx.Row) error { return row.Scan(&l.ID) })
	}
	return r.sendBatch(ctx, batch, table)
}

func (r *repository) returnLines(ctx context.Context, table string, returnID int64) ([]ReturnLine, error) {
	var lines []ReturnLine
	q := r.builder.Select(returnLineColumns...).From(table).Where(squirrel.Eq{"return_id": returnID}).OrderBy("id")
	err := r.selectMany(ctx, &lines, q, table)
	return lines, err
}

func (r *repository) replaceReturnLines(ctx context.Context, table string, returnID int64, lines []ReturnLine) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE return_id=$1`, returnID); err != nil {
		return fmt.Errorf("sales: replace %s of %d: %w", table, returnID, err)
	}
	return r.insertReturnLines(ctx, table, returnID, lines)
}

// settled sums return lines per return and order line for posted returns of one order.
func (r *repository) settled(ctx context.Context, returns, lines string, orderID int64) ([]ReturnedQty, error) {
	q := r.builder.Select("l.return_id", "l.order_line_id", "SUM(l.qty) AS qty").
		From(lines+" l").
		Join(returns+" h ON h.id = l.return_id").
		Where(squirrel.Eq{"h.order_id": orderID, "h.status": []Status{StatusConfirmed, StatusProcessed}}).
		GroupBy("l.return_id", "l.order_line_id")
	var out []ReturnedQty
	err := r.selectMany(ctx, &out, q, "settled "+returns)
	return out, err
}

func (r *repository) CreateReturn(ctx context.Context, ret SaleReturn) (SaleReturn, error) {
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO sale_returns (reference, order_id, return_date, status, amount, confirmed_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		ret.Reference, ret.OrderID, ret.ReturnDate, ret.Status, ret.Amount, ret.ConfirmedAt).Scan(&ret.ID, &ret.CreatedAt)
	if err != nil {
		return SaleReturn{}, fmt.Errorf("sales: create return %s: %w", ret.Reference, err)
	}
	if err := r.insertReturnLines(ctx, "sale_return_lines", ret.ID, ret.Lines); err != nil {
		return SaleReturn{}, err
	}
	return ret, nil
}

func (r *repository) GetReturn(ctx context.Context, id int64) (SaleReturn, error) {
	var ret SaleReturn
	if err := r.selectOne(ctx, &ret, r.builder.Select(returnColumns...).From("sale_returns").Where(squirrel.Eq{"id": id}), "sale return", id); err != nil {
		return SaleReturn{}, err
	}
	lines, err := r.returnLines(ctx, "sale_return_lines", id)
	ret.Lines = lines
	return ret, err
}

func (r *repository) ListReturns(ctx context.Context, orderID int64) ([]SaleReturn, error) {
	var out []SaleReturn
	q := r.builder.Select(returnColumns...).From("sale_returns").Where(squirrel.Eq{"order_id": orderID}).OrderBy("id")
	err := r.selectMany(ctx, &out, q, "sale returns")
	return out, err
}

func (r *repository) UpdateReturn(ctx context.Context, ret SaleReturn) (SaleReturn, error) {
	err := r.exec(ctx, "sale return", `UPDATE sale_returns SET return_date=$2, status=$3, amount=$4, confirmed_at=$5 WHERE id=$1`,
		ret.ID, ret.ReturnDate, ret.Status, ret.Amount, ret.ConfirmedAt)
	if err != nil {
		return SaleReturn{}, err
	}
	if err := r.replaceReturnLines(ctx, "sale_return_lines", ret.ID, ret.Lines); err != nil {
		return SaleReturn{}, err
	}
	return ret, nil
}

func (r *repository) DeleteReturn(ctx context.Context, id int64) error {
	return r.exec(ctx, "sale return", `DELETE FROM sale_returns WHERE id=$1`, id)
}

func (r *repository) SettledReturns(ctx context.Context, orderID int64) ([]ReturnedQty, error) {
	return r.settled(ctx, "sale_returns", "sale_return_lines", orderID)
}

// ============================================================================
// CUSTOMER ORDERS
// ============================================================================

var customerOrderColumns = []string{"id", "reference", "customer_id", "payment_method", "settlement_account_id", "order_date", "rate", "total", "profit", "status", "created_at"}

var customerOrderLineColumns = []string{"id", "order_id", "product_id", "qty", "price", "subtotal", "cost", "profit"}

func (r *repository) CreateCustomerOrder(ctx context.Context, order CustomerOrder) (CustomerOrder, error) {
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO customer_orders (reference, customer_id, payment_method, settlement_account_id, order_date, rate, total, profit, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		order.Reference, order.CustomerID, order.Method, order.SettlementAccountID, order.OrderDate, order.Rate, order.Total, order.Profit, order.Status).
		Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return CustomerOrder{}, fmt.Errorf("sales: create customer order %s: %w", order.Reference, err)
	}
	if err := r.insertCustomerOrderLines(ctx, &order); err != nil {
		return CustomerOrder{}, err
	}
	return order, nil
}

func (r *repository) insertCustomerOrderLines(ctx context.Context, order *CustomerOrder) error {
	batch := &pgx.Batch{}
	for i := range order.Lines {
		l := &order.Lines[i]
		l.OrderID = order.ID
		batch.Queue(`INSERT INTO customer_order_lines (order_id, product_id, qty, price, subtotal, cost, profit) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			l.OrderID, l.ProductID, l.Qty, l.Price, l.Subtotal, l.Cost, l.Profit).
			QueryRow(func(row pgx.Row) error { return row.Scan(&l.ID) })
	}
	return r.sendBatch(ctx, batch, "customer order lines")
}

func (r *repository) GetCustomerOrder(ctx context.Context, id int64) (CustomerOrder, error) {
	var order CustomerOrder
	if err := r.selectOne(ctx, &order, r.builder.Select(customerOrderColumns...).From("customer_orders").Where(squirrel.Eq{"id": id}), "customer order", id); err != nil {
		return CustomerOrder{}, err
	}
	q := r.builder.Select(customerOrderLineColumns...).From("customer_order_lines").Where(squirrel.Eq{"order_id": id}).OrderBy("id")
	if err := r.selectMany(ctx, &order.Lines, q, "customer order lines"); err != nil {
		return CustomerOrder{}, err
	}
	return order, nil
}

func (r *repository) ListCustomerOrders(ctx context.Context, filter ListFilter) ([]CustomerOrder, error) {
	var out []CustomerOrder
	q := applyFilter(r.builder.Select(customerOrderColumns...).From("customer_orders"), "customer_id", "order_date", filter)
	err := r.selectMany(ctx, &out, q, "customer orders")
	return out, err
}

func (r *repository) UpdateCustomerOrder(ctx context.Context, order CustomerOrder) (CustomerOrder, error) {
	err := r.exec(ctx, "customer order", `UPDATE customer_orders SET order_date=$2, rate=$3, total=$4, profit=$5 WHERE id=$1`,
		order.ID, order.OrderDate, order.Rate, order.Total, order.Profit)
	if err != nil {
		return CustomerOrder{}, err
	}
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM customer_order_lines WHERE order_id=$1`, order.ID); err != nil {
		return CustomerOrder{}, fmt.Errorf("sales: replace customer order lines %d: %w", order.ID, err)
	}
	if err := r.insertCustomerOrderLines(ctx, &order); err != nil {
		return CustomerOrder{}, err
	}
	return order, nil
}

func (r *repository) DeleteCustomerOrder(ctx context.Context, id int64) error {
	return r.exec(ctx, "customer order", `DELETE FROM customer_orders WHERE id=$1`, id)
}

// ============================================================================
// CUSTOMER RETURNS
// ============================================================================

var customerReturnColumns = []string{"id", "reference", "order_id", "return_date", "status", "amount", "processed_at", "created_at"}

func (r *repository) CreateCustomerReturn(ctx context.Context, ret CustomerReturn) (CustomerReturn, error) {
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO customer_returns (reference, order_id, return_date, status, amount, processed_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		ret.Reference, ret.OrderID, ret.ReturnDate, ret.Status, ret.Amount, ret.ProcessedAt).Scan(&ret.ID, &ret.CreatedAt)
	if err != nil {
		return CustomerReturn{}, fmt.Errorf("sales: create customer return %s: %w", ret.Reference, err)
	}
	if err := r.insertReturnLines(ctx, "customer_return_lines", ret.ID, ret.Lines); err != nil {
		return CustomerReturn{}, err
	}
	return ret, nil
}

func (r *repository) GetCustomerReturn(ctx context.Context, id int64) (CustomerReturn, error) {
	var ret CustomerReturn
	if err := r.selectOne(ctx, &ret, r.builder.Select(customerReturnColumns...).From("customer_returns").Where(squirrel.Eq{"id": id}), "customer return", id); err != nil {
		return CustomerReturn{}, err
	}
	lines, err := r.returnLines(ctx, "customer_return_lines", id)
	ret.Lines = lines
	return ret, err
}

func (r *repository) ListCustomerReturns(ctx context.Context, orderID int64) ([]CustomerReturn, error) {
	var out []CustomerReturn
	q := r.builder.Select(customerReturnColumns...).From("customer_returns").Where(squirrel.Eq{"order_id": orderID}).OrderBy("id")
	err := r.selectMany(ctx, &out, q, "customer returns")
	return out, err
}

func (r *repository) UpdateCustomerReturn(ctx context.Context, ret CustomerReturn) (CustomerReturn, error) {
	err := r.exec(ctx, "customer return", `UPDATE customer_returns SET return_date=$2, status=$3, amount=$4, processed_at=$5 WHERE id=$1`,
		ret.ID, ret.ReturnDate, ret.Status, ret.Amount, ret.ProcessedAt)
	if err != nil {
		return CustomerReturn{}, err
	}
	if err := r.replaceReturnLines(ctx, "customer_return_lines", ret.ID, ret.Lines); err != nil {
		return CustomerReturn{}, err
	}
	return ret, nil
}

func (r *repository) DeleteCustomerReturn(ctx context.Context, id int64) error {
	return r.exec(ctx, "customer return", `DELETE FROM customer_returns WHERE id=$1`, id)
}

func (r *repository) SettledCustomerReturns(ctx context.Context, orderID int64) ([]ReturnedQty, error) {
	return r.settled(ctx, "customer_returns", "customer_return_lines", orderID)
}
