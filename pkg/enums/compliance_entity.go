package enums

import "fmt"

// ComplianceEntity names the financial entity a compliance entry refers to.
type ComplianceEntity string

const (
	ComplianceEntityOrder          ComplianceEntity = "order"
	ComplianceEntitySubOrder       ComplianceEntity = "sub_order"
	ComplianceEntityPayment        ComplianceEntity = "payment"
	ComplianceEntityEscrow         ComplianceEntity = "escrow"
	ComplianceEntityReturn         ComplianceEntity = "return"
	ComplianceEntityRefund         ComplianceEntity = "refund"
	ComplianceEntityPayout         ComplianceEntity = "payout"
	ComplianceEntityPayoutSchedule ComplianceEntity = "payout_schedule"
	ComplianceEntitySettlement     ComplianceEntity = "settlement"
	ComplianceEntityInvoice        ComplianceEntity = "invoice"
	ComplianceEntityCommissionRule ComplianceEntity = "commission_rule"
)

var validComplianceEntities = []ComplianceEntity{
	ComplianceEntityOrder,
	ComplianceEntitySubOrder,
	ComplianceEntityPayment,
	ComplianceEntityEscrow,
	ComplianceEntityReturn,
	ComplianceEntityRefund,
	ComplianceEntityPayout,
	ComplianceEntityPayoutSchedule,
	ComplianceEntitySettlement,
	ComplianceEntityInvoice,
	ComplianceEntityCommissionRule,
}

// String implements fmt.Stringer.
func (v ComplianceEntity) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ComplianceEntity.
func (v ComplianceEntity) IsValid() bool {
	for _, candidate := range validComplianceEntities {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseComplianceEntity converts raw input into a ComplianceEntity.
func ParseComplianceEntity(value string) (ComplianceEntity, error) {
	for _, candidate := range validComplianceEntities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid compliance entity %q", value)
}
