package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"medledger/internal/model"
	"medledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type returnInput struct {
	billID uuid.UUID
	reason string
	lines  []cartLine
}

func validateReturn(req CreateReturnRequest) (*returnInput, error) {
	rawID := strings.TrimSpace(req.BillID)
	if rawID == "" {
		return nil, missingField("bill_id")
	}
	reason := strings.ToUpper(strings.TrimSpace(req.Reason))
	if reason == "" {
		return nil, missingField("reason")
	}
	billID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, invalidField("bill_id", "is not a valid id")
	}
	if !model.ValidReturnReason(reason) {
		return nil, invalidField("reason", "must be one of DAMAGED, EXPIRED, CUSTOMER_RETURN, WRONG_BILL")
	}
	if len(req.Items) == 0 {
		return nil, newError(KindEmptyReturn, "return has no items", nil)
	}

	lines, err := validateLines(req.Items)
	if err != nil {
		return nil, err
	}
	return &returnInput{billID: billID, reason: reason, lines: lines}, nil
}

type soldLine struct {
	name      string
	quantity  int
	unitPrice decimal.Decimal
}

// returnTx reverses part of a bill. The bill row is locked first so two returns
// against the same bill cannot both pass the over-return check.
type returnTx struct {
	medicines repository.MedicineRepository
	bills     repository.BillRepository
	returns   repository.ReturnRepository
	movements repository.StockMovementRepository
	audits    repository.AuditRepository
}

func (r *returnTx) execute(ctx context.Context, in *returnInput, p Principal) (*model.SaleReturn, *model.Bill, []StockLevel, error) {
	bill, err := r.bills.FindByIDForUpdate(ctx, in.billID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, nil, newError(KindBillNotFound, "bill not found", map[string]any{"bill_id": in.billID})
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load bill: %w", err)
	}

	sold := make(map[uuid.UUID]soldLine, len(bill.Items))
	for _, it := range bill.Items {
		s, ok := sold[it.MedicineID]
		if !ok {
			s.unitPrice = it.UnitPrice
			if it.Medicine != nil {
				s.name = it.Medicine.Name
			}
		}
		s.quantity += it.Quantity
		sold[it.MedicineID] = s
	}

	prior, err := r.returns.FindByBillID(ctx, bill.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load prior returns: %w", err)
	}
	returned := make(map[uuid.UUID]int)
	for _, ret := range prior {
		for _, it := range ret.Items {
			returned[it.MedicineID] += it.Quantity
		}
	}

	refund := decimal.Zero
	items := make([]model.ReturnItem, 0, len(in.lines))
	restock := make(map[uuid.UUID]int, len(in.lines))
	for i, line := range in.lines {
		s, ok := sold[line.medicineID]
		if !ok {
			name, err := r.medicineName(ctx, line.medicineID)
			if err != nil {
				return nil, nil, nil, err
			}
			msg := "Medicine not found in bill"
			if name != "" {
				msg = name + " is not on bill " + bill.BillNumber
			}
			return nil, nil, nil, newError(KindMedicineNotOnBill, msg, map[string]any{
				"medicine_id":   line.medicineID,
				"medicine_name": name,
				"bill_id":       bill.ID,
				"index":         i,
			})
		}
		already := returned[line.medicineID]
		if line.quantity > s.quantity-already {
			return nil, nil, nil, newError(KindOverReturn, "Return quantity exceeds sold quantity for "+s.name, map[string]any{
				"medicine_id":      line.medicineID,
				"medicine_name":    s.name,
				"sold":             s.quantity,
				"already_returned": already,
				"requested":        line.quantity,
				"index":            i,
			})
		}
		returned[line.medicineID] = already + line.quantity
		restock[line.medicineID] += line.quantity

		refund = refund.Add(s.unitPrice.Mul(decimal.NewFromInt(int64(line.quantity))))
		items = append(items, model.ReturnItem{
			MedicineID: line.medicineID,
			Quantity:   line.quantity,
			UnitPrice:  s.unitPrice,
		})
	}

	returnID := uuid.New()
	levels := make([]StockLevel, 0, len(restock))
	for _, id := range sortedIDs(in.lines) {
		qty := restock[id]
		after, err := r.medicines.AdjustStock(ctx, id, qty)
		if errors.Is(err, repository.ErrStockConflict) {
			return nil, nil, nil, dataIntegrity(fmt.Sprintf("medicine %s on bill %s no longer exists", id, bill.BillNumber), err)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to restock %s: %w", id, err)
		}
		if err := r.movements.Create(ctx, &model.StockMovement{
			MedicineID:      id,
			ReferenceID:     &returnID,
			MovementType:    model.MovementReturn,
			QuantityChanged: qty,
			StockAfter:      after,
			CreatedBy:       &p.ID,
		}); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to record stock movement: %w", err)
		}
		levels = append(levels, StockLevel{MedicineID: id, Stock: after})
	}

	ret := &model.SaleReturn{
		ID:           returnID,
		BillID:       bill.ID,
		Items:        items,
		RefundAmount: refund,
		Reason:       in.reason,
		ReturnedBy:   p.ID,
	}
	if err := r.returns.Create(ctx, ret); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to insert return: %w", err)
	}

	newTotal := bill.TotalAmount.Sub(refund)
	if newTotal.IsNegative() {
		newTotal = decimal.Zero
	}
	if err := r.bills.UpdateTotal(ctx, bill.ID, newTotal); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to update bill total: %w", err)
	}
	bill.TotalAmount = newTotal

	details, _ := json.Marshal(map[string]any{
		"bill_number":   bill.BillNumber,
		"refund_amount": refund,
		"reason":        in.reason,
		"bill_total":    newTotal,
	})
	if err := r.audits.Log(ctx, &model.AuditLog{
		UserID:     &p.ID,
		Action:     model.ActionCreateReturn,
		EntityID:   ret.ID.String(),
		EntityName: bill.BillNumber,
		Details:    string(details),
	}); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to write audit log: %w", err)
	}

	return ret, bill, levels, nil
}

// medicineName resolves a catalog name for error context; an unknown id yields "".
func (r *returnTx) medicineName(ctx context.Context, id uuid.UUID) (string, error) {
	med, err := r.medicines.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load medicine: %w", err)
	}
	return med.Name, nil
}
