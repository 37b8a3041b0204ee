package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medledger/internal/events"
	"medledger/internal/logging"
	"medledger/internal/metrics"
	"medledger/internal/model"
	"medledger/internal/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	opCreateBill   = "create_bill"
	opCreateReturn = "create_return"

	// defaultPublishTimeout is the total budget for all post-commit events of
	// one call, not a per-event limit.
	defaultPublishTimeout = 2 * time.Second
)

// LedgerService is the only way bills and returns are written. Each call is one
// all-or-nothing unit of work.
type LedgerService interface {
	CreateBill(ctx context.Context, req CreateBillRequest, p Principal) (*BillResponse, error)
	CreateReturn(ctx context.Context, req CreateReturnRequest, p Principal) (*ReturnResponse, error)
	GetBill(ctx context.Context, id string) (*BillResponse, error)
	ListBills(ctx context.Context, search string, page, limit int) ([]BillResponse, int64, error)
	ListReturns(ctx context.Context, billID string) ([]ReturnResponse, error)
}

// LedgerOptions tunes retry and timeout behaviour.
type LedgerOptions struct {
	BillPrefix string
	// TxTimeout bounds a single transaction attempt.
	TxTimeout time.Duration
	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries           uint64
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// PublishTimeout bounds post-commit event delivery for one call.
	PublishTimeout time.Duration
	Clock          func() time.Time
}

// LedgerDeps are the collaborators of the ledger.
type LedgerDeps struct {
	TxManager repository.TransactionManager
	Medicines repository.MedicineRepository
	Bills     repository.BillRepository
	Returns   repository.ReturnRepository
	Sequences repository.SequenceRepository
	Movements repository.StockMovementRepository
	Audits    repository.AuditRepository
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

type ledgerService struct {
	tx        repository.TransactionManager
	bills     repository.BillRepository
	returns   repository.ReturnRepository
	billing   *billingTx
	returning *returnTx
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *logging.Logger
	tracer    trace.Tracer
	opts      LedgerOptions
}

func NewLedgerService(deps LedgerDeps, opts LedgerOptions) LedgerService {
	if opts.BillPrefix == "" {
		opts.BillPrefix = "MC"
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 10 * time.Second
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 50 * time.Millisecond
	}
	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Nop
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	numbers := NewBillNumberGenerator(deps.Sequences, deps.Bills, opts.BillPrefix, opts.Clock)
	return &ledgerService{
		tx:      deps.TxManager,
		bills:   deps.Bills,
		returns: deps.Returns,
		billing: &billingTx{
			medicines: deps.Medicines,
			bills:     deps.Bills,
			movements: deps.Movements,
			audits:    deps.Audits,
			numbers:   numbers,
		},
		returning: &returnTx{
			medicines: deps.Medicines,
			bills:     deps.Bills,
			returns:   deps.Returns,
			movements: deps.Movements,
			audits:    deps.Audits,
		},
		publisher: publisher,
		metrics:   deps.Metrics,
		log:       logger.WithComponent("ledger"),
		tracer:    otel.Tracer("medledger/ledger"),
		opts:      opts,
	}
}

func (s *ledgerService) CreateBill(ctx context.Context, req CreateBillRequest, p Principal) (*BillResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.CreateBill", trace.WithAttributes(
		attribute.Int("bill.lines", len(req.Items)),
		attribute.String("principal.id", p.ID.String()),
	))
	defer span.End()
	start := time.Now()

	in, err := validateBill(req)
	if err != nil {
		return nil, s.fail(ctx, span, opCreateBill, start, err)
	}

	var (
		bill   *model.Bill
		levels []StockLevel
	)
	err = s.runInTx(ctx, opCreateBill, func(txCtx context.Context) error {
		var txErr error
		bill, levels, txErr = s.billing.execute(txCtx, in, p)
		return txErr
	})
	if err != nil {
		return nil, s.fail(ctx, span, opCreateBill, start, err)
	}

	span.SetAttributes(attribute.String("bill.number", bill.BillNumber))
	if s.metrics != nil {
		s.metrics.BillsCreated.Inc()
		s.metrics.SalesAmount.Add(bill.GrossAmount.InexactFloat64())
		s.metrics.ObserveLedger(opCreateBill, "committed", time.Since(start))
	}
	s.log.WithContext(ctx).Info("Bill created",
		"billId", bill.ID.String(),
		"billNumber", bill.BillNumber,
		"totalAmount", bill.TotalAmount.String(),
		"billedBy", p.ID.String(),
	)

	resp := toBillResponse(bill)
	s.publish(ctx, append([]events.Event{events.New(events.TypeBillCreated, bill.ID.String(), resp)}, stockEvents(levels)...))
	return resp, nil
}

func (s *ledgerService) CreateReturn(ctx context.Context, req CreateReturnRequest, p Principal) (*ReturnResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.CreateReturn", trace.WithAttributes(
		attribute.String("bill.id", req.BillID),
		attribute.Int("return.lines", len(req.Items)),
		attribute.String("principal.id", p.ID.String()),
	))
	defer span.End()
	start := time.Now()

	in, err := validateReturn(req)
	if err != nil {
		return nil, s.fail(ctx, span, opCreateReturn, start, err)
	}

	var (
		ret    *model.SaleReturn
		bill   *model.Bill
		levels []StockLevel
	)
	err = s.runInTx(ctx, opCreateReturn, func(txCtx context.Context) error {
		var txErr error
		ret, bill, levels, txErr = s.returning.execute(txCtx, in, p)
		return txErr
	})
	if err != nil {
		return nil, s.fail(ctx, span, opCreateReturn, start, err)
	}

	if s.metrics != nil {
		s.metrics.ReturnsCreated.Inc()
		s.metrics.RefundAmount.Add(ret.RefundAmount.InexactFloat64())
		s.metrics.ObserveLedger(opCreateReturn, "committed", time.Since(start))
	}
	s.log.WithContext(ctx).Info("Return created",
		"returnId", ret.ID.String(),
		"billNumber", bill.BillNumber,
		"refundAmount", ret.RefundAmount.String(),
		"billTotal", bill.TotalAmount.String(),
	)

	resp := toReturnResponse(ret)
	total := bill.TotalAmount
	resp.BillTotal = &total
	s.publish(ctx, append([]events.Event{events.New(events.TypeReturnCreated, bill.ID.String(), resp)}, stockEvents(levels)...))
	return &resp, nil
}

func (s *ledgerService) GetBill(ctx context.Context, id string) (*BillResponse, error) {
	billID, err := uuid.Parse(id)
	if err != nil {
		return nil, invalidField("id", "is not a valid id")
	}
	bill, err := s.bills.FindByID(ctx, billID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindBillNotFound, "bill not found", map[string]any{"bill_id": billID})
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load bill: %w", err))
	}
	returns, err := s.returns.FindByBillID(ctx, billID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load returns: %w", err))
	}

	resp := toBillResponse(bill)
	for i := range returns {
		resp.Returns = append(resp.Returns, toReturnResponse(&returns[i]))
	}
	return resp, nil
}

func (s *ledgerService) ListBills(ctx context.Context, search string, page, limit int) ([]BillResponse, int64, error) {
	bills, total, err := s.bills.List(ctx, search, page, limit)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("failed to list bills: %w", err))
	}
	res := make([]BillResponse, 0, len(bills))
	for i := range bills {
		res = append(res, *toBillResponse(&bills[i]))
	}
	return res, total, nil
}

func (s *ledgerService) ListReturns(ctx context.Context, billID string) ([]ReturnResponse, error) {
	id, err := uuid.Parse(billID)
	if err != nil {
		return nil, invalidField("bill_id", "is not a valid id")
	}
	returns, err := s.returns.FindByBillID(ctx, id)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list returns: %w", err))
	}
	res := make([]ReturnResponse, 0, len(returns))
	for i := range returns {
		res = append(res, toReturnResponse(&returns[i]))
	}
	return res, nil
}

// runInTx runs fn in a fresh transaction per attempt, retrying transient
// infrastructure failures with exponential backoff. Each attempt is bounded by
// TxTimeout; cancellation of ctx stops retrying.
func (s *ledgerService) runInTx(ctx context.Context, op string, fn func(txCtx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.RetryInitialInterval
	eb.MaxInterval = s.opts.RetryMaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, s.opts.MaxRetries), ctx)

	attempt := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.TxTimeout)
		defer cancel()

		err := s.tx.RunInTx(attemptCtx, fn)
		if err == nil {
			return nil
		}
		le := classify(err)
		if le.transient && ctx.Err() == nil {
			return le
		}
		return backoff.Permanent(le)
	}
	notify := func(err error, wait time.Duration) {
		if s.metrics != nil {
			s.metrics.LedgerRetries.WithLabelValues(op).Inc()
		}
		s.log.WithContext(ctx).WithError(err).Warn("Retrying ledger transaction", "operation", op, "backoffMs", wait.Milliseconds())
	}

	err := backoff.RetryNotify(attempt, policy, notify)
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return classify(err)
}

// fail records a rejected operation and returns the classified error.
func (s *ledgerService) fail(ctx context.Context, span trace.Span, op string, start time.Time, err error) error {
	le := classify(err)
	span.RecordError(le)
	span.SetStatus(codes.Error, string(le.Kind))
	span.SetAttributes(attribute.String("ledger.error_kind", string(le.Kind)))

	if s.metrics != nil {
		s.metrics.LedgerFailures.WithLabelValues(op, string(le.Kind)).Inc()
		s.metrics.ObserveLedger(op, string(le.Kind.Category()), time.Since(start))
	}

	log := s.log.WithContext(ctx).WithError(err)
	switch le.Kind.Category() {
	case CategoryInfrastructure:
		log.Error("Ledger transaction failed", "operation", op, "kind", le.Kind)
	case CategoryIntegrity:
		log.Error("Ledger data integrity violation", "operation", op, "kind", le.Kind)
	default:
		log.Info("Ledger request rejected", "operation", op, "kind", le.Kind)
	}
	return le
}

// publish delivers post-commit notifications under one shared deadline, so a
// stalled transport delays the response by at most PublishTimeout. Failures are
// logged; the committed transaction stands regardless.
func (s *ledgerService) publish(ctx context.Context, batch []events.Event) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PublishTimeout)
	defer cancel()

	for _, event := range batch {
		status := "ok"
		if err := s.publisher.Publish(pubCtx, event); err != nil {
			status = "error"
			s.log.WithContext(ctx).WithError(err).Warn("Failed to publish ledger event", "eventType", event.Type, "subject", event.Subject)
		}
		if s.metrics != nil {
			s.metrics.EventsPublished.WithLabelValues(event.Type, status).Inc()
		}
	}
}

func stockEvents(levels []StockLevel) []events.Event {
	out := make([]events.Event, 0, 2*len(levels))
	for _, lvl := range levels {
		out = append(out, events.New(events.TypeStockChanged, lvl.MedicineID.String(), lvl))
		if lvl.Name != "" && lvl.Stock <= lvl.MinStockAlert {
			out = append(out, events.New(events.TypeStockLow, lvl.MedicineID.String(), lvl))
		}
	}
	return out
}
