package mysql

import (
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"payments/pkg/domain/model"
)

const mysqlErrDuplicateEntry = 1062

type OrderRepository struct {
	db sqlx.Ext
}

type orderRow struct {
	ID                 string         `db:"id"`
	OrderNumber        string         `db:"order_number"`
	UserID             sql.NullString `db:"user_id"`
	Email              string         `db:"email"`
	Name               string         `db:"name"`
	Status             string         `db:"status"`
	Subtotal           int64          `db:"subtotal"`
	Total              int64          `db:"total"`
	Currency           string         `db:"currency"`
	PaymentProvider    string         `db:"payment_provider"`
	PaymentIntentID    sql.NullString `db:"payment_intent_id"`
	PaymentCompletedAt sql.NullTime   `db:"payment_completed_at"`
	WebhookProcessed   bool           `db:"webhook_processed"`
	InvoiceID          sql.NullInt64  `db:"invoice_id"`
	InvoiceNumber      sql.NullString `db:"invoice_number"`
	InvoiceToken       sql.NullString `db:"invoice_token"`
	InvoiceIssuedAt    sql.NullTime   `db:"invoice_issued_at"`
	BuyerTaxNo         sql.NullString `db:"buyer_tax_no"`
	BuyerCompanyName   sql.NullString `db:"buyer_company_name"`
	BuyerStreet        sql.NullString `db:"buyer_street"`
	BuyerPostCode      sql.NullString `db:"buyer_post_code"`
	BuyerCity          sql.NullString `db:"buyer_city"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

const orderColumns = `id, order_number, user_id, email, name, status, subtotal, total, currency,
	payment_provider, payment_intent_id, payment_completed_at, webhook_processed,
	invoice_id, invoice_number, invoice_token, invoice_issued_at,
	buyer_tax_no, buyer_company_name, buyer_street, buyer_post_code, buyer_city,
	created_at, updated_at`

func (r *OrderRepository) Create(order *model.Order) error {
	_, err := r.db.Exec(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID.String(), order.OrderNumber, uuidPtrToNull(order.UserID),
		order.Email, order.Name, string(order.Status), order.Subtotal, order.Total, order.Currency,
		string(order.PaymentProvider), strPtrToNull(order.PaymentIntentID), timePtrToNull(order.PaymentCompletedAt),
		order.WebhookProcessed,
		int64PtrToNull(order.InvoiceID), strPtrToNull(order.InvoiceNumber), strPtrToNull(order.InvoiceToken),
		timePtrToNull(order.InvoiceIssuedAt),
		strPtrToNull(order.BuyerTaxNo), strPtrToNull(order.BuyerCompanyName), strPtrToNull(order.BuyerStreet),
		strPtrToNull(order.BuyerPostCode), strPtrToNull(order.BuyerCity),
		order.CreatedAt, order.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return model.ErrDuplicateOrderNumber
	}
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	for _, item := range order.Items {
		_, err := r.db.Exec(`
			INSERT INTO order_items (id, order_id, package_id, package_title, package_slug, price, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID.String(), order.ID.String(), item.PackageID.String(),
			item.PackageTitle, item.PackageSlug, item.Price, item.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert order item")
		}
	}
	return nil
}

func (r *OrderRepository) FindByID(id uuid.UUID) (*model.Order, error) {
	return r.findOne(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id.String())
}

func (r *OrderRepository) FindByPaymentIntentID(paymentIntentID string) (*model.Order, error) {
	return r.findOne(`SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = ?`, paymentIntentID)
}

// LockByID takes a row-level lock on the order for the duration of the
// surrounding transaction. Concurrent webhook deliveries for the same order
// serialize here.
func (r *OrderRepository) LockByID(id uuid.UUID) (*model.Order, error) {
	return r.findOne(`SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id.String())
}

func (r *OrderRepository) findOne(query string, arg any) (*model.Order, error) {
	var row orderRow
	if err := sqlx.Get(r.db, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "select order")
	}

	order, err := row.toModel()
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) loadItems(order *model.Order) error {
	type itemRow struct {
		ID           string    `db:"id"`
		OrderID      string    `db:"order_id"`
		PackageID    string    `db:"package_id"`
		PackageTitle string    `db:"package_title"`
		PackageSlug  string    `db:"package_slug"`
		Price        int64     `db:"price"`
		CreatedAt    time.Time `db:"created_at"`
	}

	var rows []itemRow
	err := sqlx.Select(r.db, &rows, `
		SELECT id, order_id, package_id, package_title, package_slug, price, created_at
		FROM order_items WHERE order_id = ? ORDER BY created_at`, order.ID.String())
	if err != nil {
		return errors.Wrap(err, "select order items")
	}

	order.Items = make([]model.OrderItem, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return errors.Wrap(err, "parse order item id")
		}
		packageID, err := uuid.Parse(row.PackageID)
		if err != nil {
			return errors.Wrap(err, "parse order item package id")
		}
		order.Items = append(order.Items, model.OrderItem{
			ID:           id,
			OrderID:      order.ID,
			PackageID:    packageID,
			PackageTitle: row.PackageTitle,
			PackageSlug:  row.PackageSlug,
			Price:        row.Price,
			CreatedAt:    row.CreatedAt,
		})
	}
	return nil
}

func (r *OrderRepository) Update(order *model.Order) error {
	_, err := r.db.Exec(`
		UPDATE orders SET
			user_id = ?, status = ?, payment_intent_id = ?, payment_completed_at = ?,
			webhook_processed = ?, updated_at = ?
		WHERE id = ?`,
		uuidPtrToNull(order.UserID), string(order.Status), strPtrToNull(order.PaymentIntentID),
		timePtrToNull(order.PaymentCompletedAt), order.WebhookProcessed, order.UpdatedAt,
		order.ID.String(),
	)
	return errors.Wrap(err, "update order")
}

// UpdateInvoice writes the invoice reference columns only. It runs outside
// the fulfillment transaction.
func (r *OrderRepository) UpdateInvoice(id uuid.UUID, details model.InvoiceDetails) error {
	_, err := r.db.Exec(`
		UPDATE orders SET
			invoice_id = ?, invoice_number = ?, invoice_token = ?, invoice_issued_at = ?, updated_at = ?
		WHERE id = ?`,
		details.InvoiceID, details.InvoiceNumber, details.InvoiceToken, details.IssuedAt,
		time.Now().UTC(), id.String(),
	)
	return errors.Wrap(err, "update order invoice")
}

func (row orderRow) toModel() (*model.Order, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, errors.Wrap(err, "parse order id")
	}

	order := &model.Order{
		ID:                 id,
		OrderNumber:        row.OrderNumber,
		Email:              row.Email,
		Name:               row.Name,
		Status:             model.OrderStatus(row.Status),
		Subtotal:           row.Subtotal,
		Total:              row.Total,
		Currency:           row.Currency,
		PaymentProvider:    model.PaymentProvider(row.PaymentProvider),
		PaymentIntentID:    nullToStrPtr(row.PaymentIntentID),
		PaymentCompletedAt: nullToTimePtr(row.PaymentCompletedAt),
		WebhookProcessed:   row.WebhookProcessed,
		InvoiceNumber:      nullToStrPtr(row.InvoiceNumber),
		InvoiceToken:       nullToStrPtr(row.InvoiceToken),
		InvoiceIssuedAt:    nullToTimePtr(row.InvoiceIssuedAt),
		BuyerTaxNo:         nullToStrPtr(row.BuyerTaxNo),
		BuyerCompanyName:   nullToStrPtr(row.BuyerCompanyName),
		BuyerStreet:        nullToStrPtr(row.BuyerStreet),
		BuyerPostCode:      nullToStrPtr(row.BuyerPostCode),
		BuyerCity:          nullToStrPtr(row.BuyerCity),
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if row.UserID.Valid {
		userID, err := uuid.Parse(row.UserID.String)
		if err != nil {
			return nil, errors.Wrap(err, "parse order user id")
		}
		order.UserID = &userID
	}
	if row.InvoiceID.Valid {
		order.InvoiceID = &row.InvoiceID.Int64
	}
	return order, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}

func uuidPtrToNull(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func strPtrToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func int64PtrToNull(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func timePtrToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullToStrPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullToTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
