// Package firestore provides Firestore-backed implementations of the
// repository interfaces.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tableside/ordering/internal/domain"
	pfirestore "github.com/tableside/ordering/internal/platform/firestore"
	"github.com/tableside/ordering/internal/repositories"
)

// Monetary values are stored as fixed-point strings so the documents stay
// exact regardless of the reading client.
type orderLineDocument struct {
	ProductName  string `firestore:"productName"`
	UnitPrice    string `firestore:"unitPrice"`
	Quantity     int    `firestore:"quantity"`
	Instructions string `firestore:"instructions,omitempty"`
}

type orderDocument struct {
	ID                  string              `firestore:"id"`
	Items               []orderLineDocument `firestore:"items"`
	Subtotal            string              `firestore:"subtotal"`
	TaxAmount           string              `firestore:"taxAmount"`
	Total               string              `firestore:"total"`
	PaymentMethod       string              `firestore:"paymentMethod"`
	PaymentStatus       string              `firestore:"paymentStatus"`
	Status              string              `firestore:"status"`
	VerificationCode    string              `firestore:"verificationCode,omitempty"`
	OnlinePaymentMethod string              `firestore:"onlinePaymentMethod,omitempty"`
	CreatedAt           time.Time           `firestore:"createdAt"`
	PaidAt              *time.Time          `firestore:"paidAt,omitempty"`
}

type billingDocument struct {
	CustomerName string `firestore:"customerName"`
	Phone        string `firestore:"phone,omitempty"`
	TableNumber  string `firestore:"tableNumber,omitempty"`
	Notes        string `firestore:"notes,omitempty"`
}

type customerDocument struct {
	Orders    []orderDocument  `firestore:"orders"`
	Billing   *billingDocument `firestore:"billing,omitempty"`
	UpdatedAt time.Time        `firestore:"updatedAt"`
}

// CustomerRecordRepository implements repositories.CustomerRecordRepository
// on top of the tenant's customers collection.
type CustomerRecordRepository struct {
	provider *pfirestore.Provider
	records  *pfirestore.BaseRepository[customerDocument]
	clock    func() time.Time
}

// NewCustomerRecordRepository constructs a repository scoped to a tenant.
func NewCustomerRecordRepository(provider *pfirestore.Provider, tenantID string, clock func() time.Time) (*CustomerRecordRepository, error) {
	if provider == nil {
		return nil, errors.New("customer record repository requires firestore provider")
	}
	tenant := strings.TrimSpace(tenantID)
	if tenant == "" {
		return nil, errors.New("customer record repository requires tenant id")
	}
	if clock == nil {
		clock = time.Now
	}

	collection := fmt.Sprintf("tenants/%s/customers", tenant)
	base := pfirestore.NewBaseRepository[customerDocument](provider, collection, nil, nil)
	return &CustomerRecordRepository{
		provider: provider,
		records:  base,
		clock:    func() time.Time { return clock().UTC() },
	}, nil
}

// Get fetches and decodes the customer record.
func (r *CustomerRecordRepository) Get(ctx context.Context, customerID string) (domain.CustomerRecord, error) {
	doc, err := r.records.Get(ctx, customerID)
	if err != nil {
		return domain.CustomerRecord{}, err
	}
	return toCustomerRecord(doc.ID, doc.Data)
}

// SaveBilling merges billing details into the record, creating it when absent.
func (r *CustomerRecordRepository) SaveBilling(ctx context.Context, customerID string, billing domain.BillingDetails) error {
	ref, err := r.records.DocumentRef(ctx, customerID)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"billing":   fromBilling(&billing),
		"updatedAt": r.clock(),
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("customers.save_billing", err)
	}
	return nil
}

// AppendOrder transactionally appends an order to the record's history.
func (r *CustomerRecordRepository) AppendOrder(ctx context.Context, customerID string, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("customer record repository: order id is required")
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.records.DocumentRef(ctx, customerID)
		if err != nil {
			return err
		}

		doc, err := r.readForUpdate(tx, ref)
		if err != nil {
			return err
		}

		doc.Orders = append(doc.Orders, fromOrder(order))
		doc.UpdatedAt = r.clock()
		return tx.Set(ref, doc)
	})
}

// TransformOrders reads the order history inside a transaction, applies
// transform, and writes the result back when it reports a change.
func (r *CustomerRecordRepository) TransformOrders(ctx context.Context, customerID string, transform func(orders []domain.Order) ([]domain.Order, bool)) error {
	if transform == nil {
		return errors.New("customer record repository: transform is required")
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.records.DocumentRef(ctx, customerID)
		if err != nil {
			return err
		}

		doc, err := r.readForUpdate(tx, ref)
		if err != nil {
			return err
		}

		orders, err := toOrders(doc.Orders)
		if err != nil {
			return err
		}

		result, changed := transform(orders)
		if !changed {
			return nil
		}

		doc.Orders = fromOrders(result)
		doc.UpdatedAt = r.clock()
		return tx.Set(ref, doc)
	})
}

// Watch streams customer record updates until ctx is cancelled.
func (r *CustomerRecordRepository) Watch(ctx context.Context, customerID string) (<-chan repositories.CustomerRecordEvent, error) {
	ref, err := r.records.DocumentRef(ctx, customerID)
	if err != nil {
		return nil, err
	}

	snapshots, err := pfirestore.WatchDocument[customerDocument](ctx, ref, nil)
	if err != nil {
		return nil, err
	}

	events := make(chan repositories.CustomerRecordEvent, 1)
	go func() {
		defer close(events)
		for snapshot := range snapshots {
			event := repositories.CustomerRecordEvent{Exists: snapshot.Exists, Err: snapshot.Err}
			if snapshot.Err == nil && snapshot.Exists {
				record, decodeErr := toCustomerRecord(snapshot.Document.ID, snapshot.Document.Data)
				if decodeErr != nil {
					event = repositories.CustomerRecordEvent{Err: decodeErr}
				} else {
					event.Record = record
				}
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// readForUpdate loads the document inside tx, treating a missing record as empty.
func (r *CustomerRecordRepository) readForUpdate(tx *firestore.Transaction, ref *firestore.DocumentRef) (customerDocument, error) {
	snapshot, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return customerDocument{}, nil
	}
	if err != nil {
		return customerDocument{}, err
	}

	var doc customerDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return customerDocument{}, fmt.Errorf("firestore customers decode %s: %w", ref.ID, err)
	}
	return doc, nil
}

func toCustomerRecord(customerID string, doc customerDocument) (domain.CustomerRecord, error) {
	orders, err := toOrders(doc.Orders)
	if err != nil {
		return domain.CustomerRecord{}, err
	}
	return domain.CustomerRecord{
		CustomerID: customerID,
		Orders:     orders,
		Billing:    toBilling(doc.Billing),
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

func toOrders(docs []orderDocument) ([]domain.Order, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := toOrder(doc)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func toOrder(doc orderDocument) (domain.Order, error) {
	subtotal, err := parseAmount(doc.Subtotal, "subtotal", doc.ID)
	if err != nil {
		return domain.Order{}, err
	}
	taxAmount, err := parseAmount(doc.TaxAmount, "taxAmount", doc.ID)
	if err != nil {
		return domain.Order{}, err
	}
	total, err := parseAmount(doc.Total, "total", doc.ID)
	if err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderLine, 0, len(doc.Items))
	for _, item := range doc.Items {
		unitPrice, err := parseAmount(item.UnitPrice, "unitPrice", doc.ID)
		if err != nil {
			return domain.Order{}, err
		}
		items = append(items, domain.OrderLine{
			ProductName:  item.ProductName,
			UnitPrice:    unitPrice,
			Quantity:     item.Quantity,
			Instructions: item.Instructions,
		})
	}

	return domain.Order{
		ID:                  doc.ID,
		Items:               items,
		Subtotal:            subtotal,
		TaxAmount:           taxAmount,
		Total:               total,
		PaymentMethod:       domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:       domain.PaymentStatus(doc.PaymentStatus),
		Status:              domain.OrderStatus(doc.Status),
		VerificationCode:    doc.VerificationCode,
		OnlinePaymentMethod: doc.OnlinePaymentMethod,
		CreatedAt:           doc.CreatedAt,
		PaidAt:              doc.PaidAt,
	}, nil
}

func fromOrders(orders []domain.Order) []orderDocument {
	if len(orders) == 0 {
		return nil
	}
	docs := make([]orderDocument, 0, len(orders))
	for _, order := range orders {
		docs = append(docs, fromOrder(order))
	}
	return docs
}

func fromOrder(order domain.Order) orderDocument {
	items := make([]orderLineDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineDocument{
			ProductName:  item.ProductName,
			UnitPrice:    item.UnitPrice.String(),
			Quantity:     item.Quantity,
			Instructions: item.Instructions,
		})
	}
	return orderDocument{
		ID:                  order.ID,
		Items:               items,
		Subtotal:            order.Subtotal.String(),
		TaxAmount:           order.TaxAmount.String(),
		Total:               order.Total.String(),
		PaymentMethod:       string(order.PaymentMethod),
		PaymentStatus:       string(order.PaymentStatus),
		Status:              string(order.Status),
		VerificationCode:    order.VerificationCode,
		OnlinePaymentMethod: order.OnlinePaymentMethod,
		CreatedAt:           order.CreatedAt,
		PaidAt:              order.PaidAt,
	}
}

func toBilling(doc *billingDocument) *domain.BillingDetails {
	if doc == nil {
		return nil
	}
	return &domain.BillingDetails{
		CustomerName: doc.CustomerName,
		Phone:        doc.Phone,
		TableNumber:  doc.TableNumber,
		Notes:        doc.Notes,
	}
}

func fromBilling(billing *domain.BillingDetails) *billingDocument {
	if billing == nil {
		return nil
	}
	return &billingDocument{
		CustomerName: billing.CustomerName,
		Phone:        billing.Phone,
		TableNumber:  billing.TableNumber,
		Notes:        billing.Notes,
	}
}

func parseAmount(raw, field, orderID string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("firestore customers: order %s has invalid %s %q: %w", orderID, field, raw, err)
	}
	return value, nil
}
