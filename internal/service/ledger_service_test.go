package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"medledger/internal/events"
	"medledger/internal/logging"
	"medledger/internal/metrics"
	"medledger/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)

type ledgerFixture struct {
	ledger    LedgerService
	store     *memStore
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	staff     Principal
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		store:     newMemStore(),
		publisher: &recordingPublisher{},
		metrics:   metrics.New("test"),
		staff:     Principal{ID: uuid.New(), Role: model.RoleStaff},
	}
	f.ledger = f.newLedger(f.publisher, logging.Nop(), 0)
	return f
}

// newLedger builds a ledger over the fixture store with the given publisher,
// logger and publish budget (0 selects the default).
func (f *ledgerFixture) newLedger(pub events.Publisher, log *logging.Logger, publishTimeout time.Duration) LedgerService {
	return NewLedgerService(LedgerDeps{
		TxManager: &fakeTxManager{s: f.store},
		Medicines: &fakeMedicineRepo{s: f.store},
		Bills:     &fakeBillRepo{s: f.store},
		Returns:   &fakeReturnRepo{s: f.store},
		Sequences: &fakeSequenceRepo{s: f.store},
		Movements: &fakeMovementRepo{s: f.store},
		Audits:    &fakeAuditRepo{s: f.store},
		Publisher: pub,
		Metrics:   f.metrics,
		Logger:    log,
	}, LedgerOptions{
		BillPrefix:           "MC",
		TxTimeout:            2 * time.Second,
		MaxRetries:           3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		PublishTimeout:       publishTimeout,
		Clock:                func() time.Time { return fixedNow },
	})
}

func (f *ledgerFixture) addMedicine(name string, stock int, price string) uuid.UUID {
	m := model.Medicine{
		ID:            uuid.New(),
		Name:          name,
		Brand:         "Generic",
		CategoryID:    uuid.New(),
		BatchNumber:   "B-1",
		ExpiryDate:    fixedNow.AddDate(1, 0, 0),
		Price:         decimal.RequireFromString(price),
		Stock:         stock,
		MinStockAlert: model.DefaultMinStockAlert,
		IsActive:      true,
	}
	f.store.medicines[m.ID] = m
	return m.ID
}

func (f *ledgerFixture) stock(id uuid.UUID) int {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.medicines[id].Stock
}

func (f *ledgerFixture) bill(t *testing.T, items ...LineRequest) *BillResponse {
	t.Helper()
	resp, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "Asha",
		PaymentMode:  "CASH",
		Items:        items,
	}, f.staff)
	require.NoError(t, err)
	return resp
}

func line(id uuid.UUID, qty int) LineRequest {
	return LineRequest{MedicineID: id.String(), Quantity: qty}
}

func requireKind(t *testing.T, err error, kind ErrorKind) *LedgerError {
	t.Helper()
	require.Error(t, err)
	var le *LedgerError
	require.True(t, errors.As(err, &le), "expected LedgerError, got %T: %v", err, err)
	require.Equal(t, kind, le.Kind, le.Error())
	return le
}

func TestCreateBill_Success(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")

	resp := f.bill(t, line(medID, 3))

	assert.Equal(t, "MC-2026-000001", resp.BillNumber)
	assert.True(t, resp.TotalAmount.Equal(decimal.RequireFromString("15.00")), resp.TotalAmount.String())
	assert.True(t, resp.GrossAmount.Equal(resp.TotalAmount))
	assert.Equal(t, f.staff.ID, resp.BilledBy)
	require.Len(t, resp.Items, 1)
	assert.True(t, resp.Items[0].UnitPrice.Equal(decimal.RequireFromString("5.00")))
	assert.Equal(t, 7, f.stock(medID))

	require.Len(t, f.store.movements, 1)
	assert.Equal(t, model.MovementSale, f.store.movements[0].MovementType)
	assert.Equal(t, -3, f.store.movements[0].QuantityChanged)
	assert.Equal(t, 7, f.store.movements[0].StockAfter)

	require.Len(t, f.store.audits, 1)
	assert.Equal(t, model.ActionCreateBill, f.store.audits[0].Action)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BillsCreated))
	assert.Equal(t, []string{events.TypeBillCreated, events.TypeStockChanged, events.TypeStockLow}, f.publisher.types())
}

func TestCreateBill_TotalIsSumOfLines(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.addMedicine("Amoxicillin", 50, "12.50")
	b := f.addMedicine("Cetirizine", 50, "3.75")

	resp := f.bill(t, line(a, 2), line(b, 4), line(a, 1))

	// 3 × 12.50 + 4 × 3.75
	assert.True(t, resp.TotalAmount.Equal(decimal.RequireFromString("52.50")), resp.TotalAmount.String())
	assert.Equal(t, 47, f.stock(a))
	assert.Equal(t, 46, f.stock(b))
	assert.Equal(t, []int{1, 2, 3}, []int{resp.Items[0].LineNo, resp.Items[1].LineNo, resp.Items[2].LineNo})
}

func TestCreateBill_InsufficientStock(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Ibuprofen", 2, "4.00")

	_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "Ravi", PaymentMode: "UPI", Items: []LineRequest{line(medID, 5)},
	}, f.staff)

	le := requireKind(t, err, KindInsufficientStock)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Equal(t, 2, le.Details["available_stock"])
	assert.Equal(t, "Insufficient stock for Ibuprofen", le.Message)
	assert.Equal(t, 2, f.stock(medID))
	assert.Empty(t, f.store.bills)
	assert.Empty(t, f.store.sequences)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LedgerFailures.WithLabelValues(opCreateBill, string(KindInsufficientStock))))
}

func TestCreateBill_DuplicateLinesCheckedCumulatively(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("ORS", 5, "1.00")

	_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "Ravi", PaymentMode: "CASH", Items: []LineRequest{line(medID, 3), line(medID, 3)},
	}, f.staff)

	le := requireKind(t, err, KindInsufficientStock)
	assert.Equal(t, 5, le.Details["available_stock"])
	assert.Equal(t, 6, le.Details["requested"])
	assert.Equal(t, 5, f.stock(medID))
}

func TestCreateBill_HugeDuplicateLineIsInsufficientStock(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("ORS", 5, "1.00")

	_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "Ravi", PaymentMode: "CASH", Items: []LineRequest{line(medID, 1), line(medID, math.MaxInt32)},
	}, f.staff)

	le := requireKind(t, err, KindInsufficientStock)
	assert.Equal(t, 1+math.MaxInt32, le.Details["requested"])
	assert.Equal(t, 1, f.store.txCount)
	assert.Equal(t, 5, f.stock(medID))
	assert.Empty(t, f.store.bills)
}

func TestCreateBill_LaterLineFailureLeavesEarlierStockUntouched(t *testing.T) {
	f := newLedgerFixture(t)
	ok := f.addMedicine("Vitamin C", 10, "2.00")
	short := f.addMedicine("Insulin", 0, "30.00")

	_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "Meera", PaymentMode: "CARD", Items: []LineRequest{line(ok, 2), line(short, 1)},
	}, f.staff)

	requireKind(t, err, KindInsufficientStock)
	assert.Equal(t, 10, f.stock(ok))
	assert.Empty(t, f.store.movements)
	assert.Empty(t, f.store.audits)
}

func TestCreateBill_UnknownAndInactiveMedicine(t *testing.T) {
	f := newLedgerFixture(t)
	inactive := f.addMedicine("Discontinued", 10, "1.00")
	m := f.store.medicines[inactive]
	m.IsActive = false
	f.store.medicines[inactive] = m

	_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "A", PaymentMode: "CASH", Items: []LineRequest{line(uuid.New(), 1)},
	}, f.staff)
	requireKind(t, err, KindMedicineNotFound)

	_, err = f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "A", PaymentMode: "CASH", Items: []LineRequest{line(inactive, 1)},
	}, f.staff)
	requireKind(t, err, KindMedicineInactive)
	assert.Equal(t, 10, f.stock(inactive))
}

func TestCreateBill_Validation(t *testing.T) {
	valid := uuid.New().String()
	tests := []struct {
		name string
		req  CreateBillRequest
		kind ErrorKind
	}{
		{"missing customer", CreateBillRequest{PaymentMode: "CASH", Items: []LineRequest{{valid, 1}}}, KindMissingField},
		{"blank customer", CreateBillRequest{CustomerName: "   ", PaymentMode: "CASH", Items: []LineRequest{{valid, 1}}}, KindMissingField},
		{"missing payment mode", CreateBillRequest{CustomerName: "A", Items: []LineRequest{{valid, 1}}}, KindMissingField},
		{"unknown payment mode", CreateBillRequest{CustomerName: "A", PaymentMode: "CHEQUE", Items: []LineRequest{{valid, 1}}}, KindInvalidField},
		{"empty cart", CreateBillRequest{CustomerName: "A", PaymentMode: "CASH"}, KindEmptyCart},
		{"missing medicine id", CreateBillRequest{CustomerName: "A", PaymentMode: "CASH", Items: []LineRequest{{"", 1}}}, KindInvalidItem},
		{"malformed medicine id", CreateBillRequest{CustomerName: "A", PaymentMode: "CASH", Items: []LineRequest{{"not-an-id", 1}}}, KindInvalidItem},
		{"zero quantity", CreateBillRequest{CustomerName: "A", PaymentMode: "CASH", Items: []LineRequest{{valid, 0}}}, KindInvalidItem},
		{"negative quantity", CreateBillRequest{CustomerName: "A", PaymentMode: "CASH", Items: []LineRequest{{valid, -2}}}, KindInvalidItem},
		{"quantity wider than column", CreateBillRequest{CustomerName: "A", PaymentMode: "CASH", Items: []LineRequest{{valid, math.MaxInt32 + 1}}}, KindInvalidItem},
		{"max int quantity", CreateBillRequest{CustomerName: "A", PaymentMode: "CASH", Items: []LineRequest{{valid, math.MaxInt}}}, KindInvalidItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture(t)
			_, err := f.ledger.CreateBill(context.Background(), tt.req, f.staff)
			le := requireKind(t, err, tt.kind)
			assert.Equal(t, CategoryValidation, le.Kind.Category())
			assert.Zero(t, f.store.txCount, "validation must not open a transaction")
		})
	}
}

func TestCreateBill_PaymentModeIsNormalised(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Zinc", 3, "1.00")

	resp, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "  Kiran ", PaymentMode: "upi", Items: []LineRequest{line(medID, 1)},
	}, f.staff)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentUPI, resp.PaymentMode)
	assert.Equal(t, "Kiran", resp.CustomerName)
}

// Concurrent carts for the last unit: exactly one wins.
func TestCreateBill_ConcurrentLastUnit(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Last Unit", 1, "9.99")

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
				CustomerName: fmt.Sprintf("customer-%d", i), PaymentMode: "CASH", Items: []LineRequest{line(medID, 1)},
			}, f.staff)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if KindOf(err) == KindInsufficientStock {
				var le *LedgerError
				errors.As(err, &le)
				assert.Equal(t, 0, le.Details["available_stock"])
				rejected++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, rejected)
	assert.Equal(t, 0, f.stock(medID))
	assert.Len(t, f.store.bills, 1)
}

func TestCreateBill_NoOversellUnderConcurrency(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Antacid", 25, "2.00")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.CreateBill(context.Background(), CreateBillRequest{
				CustomerName: "c", PaymentMode: "CASH", Items: []LineRequest{line(medID, 2)},
			}, f.staff)
		}()
	}
	wg.Wait()

	sold := 0
	for _, b := range f.store.bills {
		for _, it := range b.Items {
			sold += it.Quantity
		}
	}
	assert.Equal(t, 24, sold)
	assert.Equal(t, 25-sold, f.stock(medID))
}

func TestBillNumbers_SequentialAreGapFree(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Saline", 100, "1.00")

	for i := 1; i <= 5; i++ {
		resp := f.bill(t, line(medID, 1))
		assert.Equal(t, fmt.Sprintf("MC-2026-%06d", i), resp.BillNumber)
	}
}

func TestBillNumbers_ConcurrentAreUnique(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Gauze", 1000, "1.00")

	const n = 30
	numbers := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
				CustomerName: "c", PaymentMode: "CASH", Items: []LineRequest{line(medID, 1)},
			}, f.staff)
			if assert.NoError(t, err) {
				numbers <- resp.BillNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool)
	for num := range numbers {
		assert.False(t, seen[num], "duplicate bill number %s", num)
		seen[num] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[fmt.Sprintf("MC-2026-%06d", i)])
	}
}

func TestBillNumbers_RollbackDoesNotConsumeNumber(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Bandage", 10, "1.00")

	f.store.opFailures["audits.Log"] = errors.New("audit insert failed")
	_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "c", PaymentMode: "CASH", Items: []LineRequest{line(medID, 2)},
	}, f.staff)
	requireKind(t, err, KindPersistenceFailure)
	assert.Equal(t, 10, f.stock(medID), "stock restored on rollback")
	assert.Empty(t, f.store.bills)

	resp := f.bill(t, line(medID, 1))
	assert.Equal(t, "MC-2026-000001", resp.BillNumber)
}

func TestBillNumbers_SeededFromExistingBills(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Syrup", 10, "1.00")
	old := uuid.New()
	f.store.bills[old] = model.Bill{ID: old, BillNumber: "MC-2026-000041"}
	prevYear := uuid.New()
	f.store.bills[prevYear] = model.Bill{ID: prevYear, BillNumber: "MC-2025-000999"}

	resp := f.bill(t, line(medID, 1))
	assert.Equal(t, "MC-2026-000042", resp.BillNumber)
}

func TestBillNumbers_CorruptLastNumberIsFatal(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Syrup", 10, "1.00")
	old := uuid.New()
	f.store.bills[old] = model.Bill{ID: old, BillNumber: "MC-2026-00x0y1"}

	_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "c", PaymentMode: "CASH", Items: []LineRequest{line(medID, 1)},
	}, f.staff)

	requireKind(t, err, KindDataIntegrity)
	assert.Equal(t, 1, f.store.txCount, "integrity errors are not retried")
	assert.Equal(t, 10, f.stock(medID))
}

func TestCreateBill_RetriesSerializationFailure(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Aspirin", 5, "1.00")
	f.store.txFailures = []error{
		&pgconn.PgError{Code: "40001", Message: "could not serialize access"},
		fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}),
	}

	resp, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "c", PaymentMode: "CASH", Items: []LineRequest{line(medID, 1)},
	}, f.staff)

	require.NoError(t, err)
	assert.Equal(t, "MC-2026-000001", resp.BillNumber)
	assert.Equal(t, 3, f.store.txCount)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LedgerRetries.WithLabelValues(opCreateBill)))
}

func TestCreateBill_RetriesExhausted(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Aspirin", 5, "1.00")
	conflict := &pgconn.PgError{Code: "40001"}
	f.store.txFailures = []error{conflict, conflict, conflict, conflict, conflict}

	_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "c", PaymentMode: "CASH", Items: []LineRequest{line(medID, 1)},
	}, f.staff)

	le := requireKind(t, err, KindPersistenceFailure)
	assert.True(t, le.Retryable())
	assert.Equal(t, 4, f.store.txCount, "one attempt plus three retries")
	assert.Equal(t, 5, f.stock(medID))
}

func TestCreateBill_NonTransientFailureIsNotRetried(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Aspirin", 5, "1.00")
	f.store.opFailures["bills.Create"] = errors.New("disk full")

	_, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		CustomerName: "c", PaymentMode: "CASH", Items: []LineRequest{line(medID, 1)},
	}, f.staff)

	le := requireKind(t, err, KindPersistenceFailure)
	assert.Equal(t, "database error", le.Message)
	assert.Equal(t, 1, f.store.txCount)
	assert.Equal(t, 5, f.stock(medID))
	assert.Empty(t, f.store.sequences)
}

func TestCreateBill_CancelledContextWritesNothing(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Aspirin", 5, "1.00")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ledger.CreateBill(ctx, CreateBillRequest{
		CustomerName: "c", PaymentMode: "CASH", Items: []LineRequest{line(medID, 1)},
	}, f.staff)

	requireKind(t, err, KindPersistenceFailure)
	assert.Equal(t, 5, f.stock(medID))
	assert.Empty(t, f.store.bills)
}

func TestCreateBill_PublishFailureDoesNotFailCommittedBill(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Aspirin", 50, "1.00")
	f.publisher.err = errors.New("broker unavailable")

	resp := f.bill(t, line(medID, 1))

	assert.Equal(t, "MC-2026-000001", resp.BillNumber)
	assert.Len(t, f.store.bills, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsPublished.WithLabelValues(events.TypeBillCreated, "error")))
}

func TestCreateBill_StalledPublisherDoesNotHoldResponse(t *testing.T) {
	f := newLedgerFixture(t)
	stalled := events.PublisherFunc(func(ctx context.Context, _ events.Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	f.ledger = f.newLedger(stalled, logging.Nop(), 50*time.Millisecond)
	a := f.addMedicine("Aspirin", 5, "1.00")
	b := f.addMedicine("Ibuprofen", 5, "2.00")
	c := f.addMedicine("Cetirizine", 5, "3.00")

	start := time.Now()
	resp, err := f.ledger.CreateBill(context.Background(), CreateBillRequest{
		Items: []LineRequest{line(a, 1), line(b, 1), line(c, 1)},
	}, f.staff)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "MC-2026-000001", resp.BillNumber)
	assert.Less(t, elapsed, time.Second)
	assert.Len(t, f.store.bills, 1)
	assert.Equal(t, 4, f.stock(a))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsPublished.WithLabelValues(events.TypeBillCreated, "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.EventsPublished.WithLabelValues(events.TypeStockChanged, "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.EventsPublished.WithLabelValues(events.TypeStockLow, "error")))
}

func TestCreateBill_LogsComponentOnce(t *testing.T) {
	f := newLedgerFixture(t)
	var buf bytes.Buffer
	f.ledger = f.newLedger(events.Nop, logging.New(logging.Config{Output: &buf}), 0)
	medID := f.addMedicine("Aspirin", 50, "1.00")

	f.bill(t, line(medID, 1))

	var created string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "Bill created") {
			created = l
		}
	}
	require.NotEmpty(t, created)
	assert.Equal(t, 1, strings.Count(created, `"component":"ledger"`))
}

func TestCreateReturn_PartialReturn(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	bill := f.bill(t, line(medID, 3))

	resp, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "CUSTOMER_RETURN", Items: []LineRequest{line(medID, 1)},
	}, f.staff)

	require.NoError(t, err)
	assert.True(t, resp.RefundAmount.Equal(decimal.RequireFromString("5.00")), resp.RefundAmount.String())
	require.NotNil(t, resp.BillTotal)
	assert.True(t, resp.BillTotal.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, 8, f.stock(medID))

	stored := f.store.bills[bill.ID]
	assert.True(t, stored.TotalAmount.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, stored.GrossAmount.Equal(decimal.RequireFromString("15.00")))

	last := f.store.movements[len(f.store.movements)-1]
	assert.Equal(t, model.MovementReturn, last.MovementType)
	assert.Equal(t, 1, last.QuantityChanged)
	assert.Equal(t, 8, last.StockAfter)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReturnsCreated))
}

func TestCreateReturn_OverReturnAfterPartial(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	bill := f.bill(t, line(medID, 3))
	_, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, 1)},
	}, f.staff)
	require.NoError(t, err)

	_, err = f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, 3)},
	}, f.staff)

	le := requireKind(t, err, KindOverReturn)
	assert.Equal(t, "Return quantity exceeds sold quantity for Paracetamol", le.Message)
	assert.Equal(t, "Paracetamol", le.Details["medicine_name"])
	assert.Equal(t, 3, le.Details["sold"])
	assert.Equal(t, 1, le.Details["already_returned"])
	assert.Equal(t, 3, le.Details["requested"])
	assert.Equal(t, 8, f.stock(medID))
	assert.Len(t, f.store.returns, 1)
	assert.True(t, f.store.bills[bill.ID].TotalAmount.Equal(decimal.RequireFromString("10.00")))
}

func TestCreateReturn_HugeQuantityIsOverReturn(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	bill := f.bill(t, line(medID, 3))
	_, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, 1)},
	}, f.staff)
	require.NoError(t, err)

	_, err = f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, math.MaxInt32)},
	}, f.staff)
	requireKind(t, err, KindOverReturn)

	_, err = f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, math.MaxInt)},
	}, f.staff)
	requireKind(t, err, KindInvalidItem)

	assert.Equal(t, 8, f.stock(medID))
	assert.Len(t, f.store.returns, 1)
}

func TestCreateReturn_DuplicateLinesWithinOneRequest(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	bill := f.bill(t, line(medID, 3))

	_, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, 2), line(medID, 2)},
	}, f.staff)

	requireKind(t, err, KindOverReturn)
	assert.Equal(t, 7, f.stock(medID))
}

func TestCreateReturn_FullReturnZeroesTotal(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.addMedicine("A", 10, "2.50")
	b := f.addMedicine("B", 10, "4.00")
	bill := f.bill(t, line(a, 2), line(b, 1))

	_, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "WRONG_BILL", Items: []LineRequest{line(a, 2), line(b, 1)},
	}, f.staff)
	require.NoError(t, err)

	assert.True(t, f.store.bills[bill.ID].TotalAmount.IsZero())
	assert.Equal(t, 10, f.stock(a))
	assert.Equal(t, 10, f.stock(b))
}

func TestCreateReturn_RefundUsesSalePrice(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	bill := f.bill(t, line(medID, 2))

	m := f.store.medicines[medID]
	m.Price = decimal.RequireFromString("8.00")
	f.store.medicines[medID] = m

	resp, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "EXPIRED", Items: []LineRequest{line(medID, 2)},
	}, f.staff)
	require.NoError(t, err)
	assert.True(t, resp.RefundAmount.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, resp.Items[0].UnitPrice.Equal(decimal.RequireFromString("5.00")))
}

func TestCreateReturn_TotalFloorsAtZero(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	bill := f.bill(t, line(medID, 2))

	stored := f.store.bills[bill.ID]
	stored.TotalAmount = decimal.RequireFromString("3.00")
	f.store.bills[bill.ID] = stored

	resp, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, 1)},
	}, f.staff)
	require.NoError(t, err)
	assert.True(t, resp.BillTotal.IsZero())
	assert.True(t, f.store.bills[bill.ID].TotalAmount.IsZero())
}

func TestCreateReturn_BusinessErrors(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	other := f.addMedicine("Other", 10, "1.00")
	bill := f.bill(t, line(medID, 1))

	_, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: uuid.NewString(), Reason: "DAMAGED", Items: []LineRequest{line(medID, 1)},
	}, f.staff)
	requireKind(t, err, KindBillNotFound)

	_, err = f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(other, 1)},
	}, f.staff)
	le := requireKind(t, err, KindMedicineNotOnBill)
	assert.Equal(t, "Other is not on bill MC-2026-000001", le.Message)
	assert.Equal(t, "Other", le.Details["medicine_name"])
	assert.Equal(t, 10, f.stock(other))

	_, err = f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(uuid.New(), 1)},
	}, f.staff)
	le = requireKind(t, err, KindMedicineNotOnBill)
	assert.Equal(t, "Medicine not found in bill", le.Message)
}

func TestCreateReturn_Validation(t *testing.T) {
	bill := uuid.NewString()
	med := uuid.NewString()
	tests := []struct {
		name string
		req  CreateReturnRequest
		kind ErrorKind
	}{
		{"missing bill", CreateReturnRequest{Reason: "DAMAGED", Items: []LineRequest{{med, 1}}}, KindMissingField},
		{"missing reason", CreateReturnRequest{BillID: bill, Items: []LineRequest{{med, 1}}}, KindMissingField},
		{"malformed bill id", CreateReturnRequest{BillID: "123", Reason: "DAMAGED", Items: []LineRequest{{med, 1}}}, KindInvalidField},
		{"unknown reason", CreateReturnRequest{BillID: bill, Reason: "CHANGED_MIND", Items: []LineRequest{{med, 1}}}, KindInvalidField},
		{"no items", CreateReturnRequest{BillID: bill, Reason: "DAMAGED"}, KindEmptyReturn},
		{"zero quantity", CreateReturnRequest{BillID: bill, Reason: "DAMAGED", Items: []LineRequest{{med, 0}}}, KindInvalidItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture(t)
			_, err := f.ledger.CreateReturn(context.Background(), tt.req, f.staff)
			requireKind(t, err, tt.kind)
			assert.Zero(t, f.store.txCount)
		})
	}
}

func TestCreateReturn_ConcurrentReturnsNeverExceedSold(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	bill := f.bill(t, line(medID, 4))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
				BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, 1)},
			}, f.staff)
		}()
	}
	wg.Wait()

	assert.Len(t, f.store.returns, 4)
	assert.Equal(t, 10, f.stock(medID))
	assert.True(t, f.store.bills[bill.ID].TotalAmount.IsZero())
}

func TestCreateReturn_FailureRollsBackRestock(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	bill := f.bill(t, line(medID, 3))
	f.store.opFailures["bills.UpdateTotal"] = errors.New("connection reset")

	_, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, 2)},
	}, f.staff)

	requireKind(t, err, KindPersistenceFailure)
	assert.Equal(t, 7, f.stock(medID))
	assert.Empty(t, f.store.returns)
	assert.True(t, f.store.bills[bill.ID].TotalAmount.Equal(decimal.RequireFromString("15.00")))
}

func TestGetBill_IncludesReturns(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	bill := f.bill(t, line(medID, 3))
	_, err := f.ledger.CreateReturn(context.Background(), CreateReturnRequest{
		BillID: bill.ID.String(), Reason: "DAMAGED", Items: []LineRequest{line(medID, 1)},
	}, f.staff)
	require.NoError(t, err)

	got, err := f.ledger.GetBill(context.Background(), bill.ID.String())
	require.NoError(t, err)
	assert.Equal(t, bill.BillNumber, got.BillNumber)
	require.Len(t, got.Returns, 1)
	assert.True(t, got.Returns[0].RefundAmount.Equal(decimal.RequireFromString("5.00")))

	_, err = f.ledger.GetBill(context.Background(), uuid.NewString())
	requireKind(t, err, KindBillNotFound)
	_, err = f.ledger.GetBill(context.Background(), "nope")
	requireKind(t, err, KindInvalidField)
}

func TestListBills(t *testing.T) {
	f := newLedgerFixture(t)
	medID := f.addMedicine("Paracetamol", 10, "5.00")
	f.bill(t, line(medID, 1))
	f.bill(t, line(medID, 1))

	bills, total, err := f.ledger.ListBills(context.Background(), "", 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, "MC-2026-000002", bills[0].BillNumber)

	returns, err := f.ledger.ListReturns(context.Background(), bills[0].ID.String())
	require.NoError(t, err)
	assert.Empty(t, returns)
}
