package httpapi

import (
	"net/http"

	"go.etcd.io/bbolt"

	"ledgercore/internal/allocation"
)

type allocationLineRequest struct {
	Kind           allocation.Kind    `json:"kind"`
	Amount         int64              `json:"amount_cents"`
	TargetID       string             `json:"target_id,omitempty"`
	AccountID      string             `json:"account_id,omitempty"`
	TaxTreatment   string             `json:"tax_treatment,omitempty"`
	TaxRatePercent float64            `json:"tax_rate_percent,omitempty"`
}

type allocateRequest struct {
	Allocations    []allocationLineRequest `json:"allocations"`
	Fee            *allocationLineRequest  `json:"fee,omitempty"`
	Rounding       *allocationLineRequest  `json:"rounding,omitempty"`
	Overpayment    *allocationLineRequest  `json:"overpayment,omitempty"`
	ToleranceCents int64                   `json:"tolerance_cents,omitempty"`
	OperationID    string                  `json:"operation_id,omitempty"`
}

func toAllocation(in allocationLineRequest) allocation.Allocation {
	return allocation.Allocation{
		Kind:           in.Kind,
		Amount:         ledgerCents(in.Amount),
		TargetID:       in.TargetID,
		AccountID:      in.AccountID,
		TaxTreatment:   taxTreatment(in.TaxTreatment),
		TaxRatePercent: in.TaxRatePercent,
	}
}

func (env *handlerEnv) allocateTx(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	bankTxID := urlParam(r, "id")

	var req allocateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}

	allocReq := allocation.Request{
		UserID:         actor(r),
		ToleranceCents: ledgerCents(req.ToleranceCents),
		OperationID:    req.OperationID,
	}
	for _, a := range req.Allocations {
		allocReq.Allocations = append(allocReq.Allocations, toAllocation(a))
	}
	if req.Fee != nil {
		fee := toAllocation(*req.Fee)
		allocReq.Fee = &fee
	}
	if req.Rounding != nil {
		rounding := toAllocation(*req.Rounding)
		allocReq.Rounding = &rounding
	}
	if req.Overpayment != nil {
		overpayment := toAllocation(*req.Overpayment)
		allocReq.Overpayment = &overpayment
	}

	var result *allocation.Result
	err := env.db.Update(func(tx *bbolt.Tx) error {
		res, err := allocation.Allocate(tx, tid, bankTxID, allocReq)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
