package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"medledger/internal/model"
	"medledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type cartLine struct {
	medicineID uuid.UUID
	quantity   int
}

type billInput struct {
	customerName string
	paymentMode  string
	lines        []cartLine
}

// StockLevel is a medicine's stock right after a committed change.
type StockLevel struct {
	MedicineID    uuid.UUID `json:"medicine_id"`
	Name          string    `json:"name"`
	Stock         int       `json:"stock"`
	MinStockAlert int       `json:"min_stock_alert"`
}

// validateBill checks everything that can be checked without the database.
func validateBill(req CreateBillRequest) (*billInput, error) {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return nil, missingField("customer_name")
	}
	mode := strings.ToUpper(strings.TrimSpace(req.PaymentMode))
	if mode == "" {
		return nil, missingField("payment_mode")
	}
	if !model.ValidPaymentMode(mode) {
		return nil, invalidField("payment_mode", "must be one of CASH, UPI, CARD")
	}
	if len(req.Items) == 0 {
		return nil, newError(KindEmptyCart, "cart has no items", nil)
	}

	lines, err := validateLines(req.Items)
	if err != nil {
		return nil, err
	}
	return &billInput{customerName: name, paymentMode: mode, lines: lines}, nil
}

// maxLineQuantity is the width of the int columns that store quantities.
const maxLineQuantity = math.MaxInt32

func validateLines(items []LineRequest) ([]cartLine, error) {
	lines := make([]cartLine, 0, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.MedicineID) == "" {
			return nil, invalidItem(i, "medicine_id is required")
		}
		id, err := uuid.Parse(strings.TrimSpace(it.MedicineID))
		if err != nil {
			return nil, invalidItem(i, "medicine_id is not a valid id")
		}
		if it.Quantity <= 0 {
			return nil, invalidItem(i, "quantity must be greater than zero")
		}
		if it.Quantity > maxLineQuantity {
			return nil, invalidItem(i, fmt.Sprintf("quantity must not exceed %d", maxLineQuantity))
		}
		lines = append(lines, cartLine{medicineID: id, quantity: it.Quantity})
	}
	return lines, nil
}

// sortedIDs returns the distinct medicine ids of lines in ascending order, the
// order in which rows are locked.
func sortedIDs(lines []cartLine) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.medicineID]; ok {
			continue
		}
		seen[l.medicineID] = struct{}{}
		ids = append(ids, l.medicineID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// billingTx converts a validated cart into a bill. It expects to run inside a
// transaction and writes nothing until every line has been validated.
type billingTx struct {
	medicines repository.MedicineRepository
	bills     repository.BillRepository
	movements repository.StockMovementRepository
	audits    repository.AuditRepository
	numbers   *BillNumberGenerator
}

func (b *billingTx) execute(ctx context.Context, in *billInput, p Principal) (*model.Bill, []StockLevel, error) {
	ids := sortedIDs(in.lines)
	locked, err := b.medicines.FindByIDsForUpdate(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock medicines: %w", err)
	}
	byID := make(map[uuid.UUID]*model.Medicine, len(locked))
	for i := range locked {
		byID[locked[i].ID] = &locked[i]
	}

	requested := make(map[uuid.UUID]int, len(ids))
	items := make([]model.BillItem, 0, len(in.lines))
	gross := decimal.Zero
	for i, line := range in.lines {
		med, ok := byID[line.medicineID]
		if !ok {
			return nil, nil, newError(KindMedicineNotFound, "medicine not found: "+line.medicineID.String(),
				map[string]any{"medicine_id": line.medicineID, "index": i})
		}
		if !med.IsActive {
			return nil, nil, newError(KindMedicineInactive, med.Name+" is not available for sale",
				map[string]any{"medicine_id": med.ID, "medicine_name": med.Name, "index": i})
		}
		if line.quantity > med.Stock-requested[med.ID] {
			return nil, nil, newError(KindInsufficientStock, "Insufficient stock for "+med.Name, map[string]any{
				"medicine_id":     med.ID,
				"medicine_name":   med.Name,
				"available_stock": med.Stock,
				"requested":       requested[med.ID] + line.quantity,
				"index":           i,
			})
		}
		requested[med.ID] += line.quantity

		item := model.BillItem{
			LineNo:     i + 1,
			MedicineID: med.ID,
			Quantity:   line.quantity,
			UnitPrice:  med.Price,
		}
		gross = gross.Add(item.LineTotal())
		items = append(items, item)
	}

	billID := uuid.New()
	levels := make([]StockLevel, 0, len(ids))
	for _, id := range ids {
		med := byID[id]
		qty := requested[id]
		after, err := b.medicines.AdjustStock(ctx, id, -qty)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decrement stock of %s: %w", med.Name, err)
		}
		if err := b.movements.Create(ctx, &model.StockMovement{
			MedicineID:      id,
			ReferenceID:     &billID,
			MovementType:    model.MovementSale,
			QuantityChanged: -qty,
			StockAfter:      after,
			CreatedBy:       &p.ID,
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to record stock movement: %w", err)
		}
		levels = append(levels, StockLevel{MedicineID: id, Name: med.Name, Stock: after, MinStockAlert: med.MinStockAlert})
	}

	number, err := b.numbers.Next(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate bill number: %w", err)
	}

	bill := &model.Bill{
		ID:           billID,
		BillNumber:   number,
		CustomerName: in.customerName,
		PaymentMode:  in.paymentMode,
		GrossAmount:  gross,
		TotalAmount:  gross,
		BilledBy:     p.ID,
		Items:        items,
	}
	if err := b.bills.Create(ctx, bill); err != nil {
		return nil, nil, fmt.Errorf("failed to insert bill: %w", err)
	}

	details, _ := json.Marshal(map[string]any{
		"bill_number":  bill.BillNumber,
		"total_amount": bill.TotalAmount,
		"payment_mode": bill.PaymentMode,
		"lines":        len(items),
	})
	if err := b.audits.Log(ctx, &model.AuditLog{
		UserID:     &p.ID,
		Action:     model.ActionCreateBill,
		EntityID:   bill.ID.String(),
		EntityName: bill.BillNumber,
		Details:    string(details),
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to write audit log: %w", err)
	}

	return bill, levels, nil
}
