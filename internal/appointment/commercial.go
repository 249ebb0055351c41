package appointment

import "context"

// baselineValueCents is the request's commercial baseline: the explicit base
// value when set, otherwise the accepted proposal value.
func baselineValueCents(r *ServiceRequest) int64 {
	if r.BaseValueCents != nil {
		return *r.BaseValueCents
	}
	return r.AcceptedProposalValueCents()
}

// baselineRecalculator is the default commercial seam. Totals are re-derived
// from the baseline plus the approved increments so repeated resolutions
// stay consistent.
type baselineRecalculator struct{}

func (baselineRecalculator) Recalculate(_ context.Context, r *ServiceRequest) (CommercialTotals, error) {
	base := baselineValueCents(r)
	return CommercialTotals{
		BaseValueCents:     base,
		ApprovedExtraCents: r.ApprovedExtraCents,
		CurrentValueCents:  base + r.ApprovedExtraCents,
	}, nil
}
