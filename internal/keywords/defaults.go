package keywords

// DefaultTerms is the curated skilled-nursing policy vocabulary
var DefaultTerms = []Term{
	// Reimbursement
	{Phrase: "reimbursement", Weight: 1.0, Domain: DomainReimbursement},
	{Phrase: "payment rate", Weight: 1.0, Domain: DomainReimbursement},
	{Phrase: "prospective payment", Weight: 1.0, Domain: DomainReimbursement},
	{Phrase: "pdpm", Weight: 1.0, Domain: DomainReimbursement},
	{Phrase: "case mix", Weight: 0.9, Domain: DomainReimbursement},
	{Phrase: "medicare rate", Weight: 1.0, Domain: DomainReimbursement},
	{Phrase: "medicaid rate", Weight: 0.8, Domain: DomainReimbursement},
	{Phrase: "wage index", Weight: 0.8, Domain: DomainReimbursement},

	// Quality
	{Phrase: "star rating", Weight: 0.9, Domain: DomainQuality},
	{Phrase: "quality measure", Weight: 0.8, Domain: DomainQuality},
	{Phrase: "cms five star", Weight: 0.9, Domain: DomainQuality},
	{Phrase: "survey", Weight: 0.8, Domain: DomainQuality},
	{Phrase: "deficiency", Weight: 0.9, Domain: DomainQuality},
	{Phrase: "penalty", Weight: 1.0, Domain: DomainQuality},

	// Staffing
	{Phrase: "staffing requirement", Weight: 1.0, Domain: DomainStaffing},
	{Phrase: "minimum staffing", Weight: 1.0, Domain: DomainStaffing},
	{Phrase: "nurse staffing", Weight: 0.9, Domain: DomainStaffing},
	{Phrase: "cna requirement", Weight: 0.8, Domain: DomainStaffing},
	{Phrase: "rn hour", Weight: 0.9, Domain: DomainStaffing},

	// Operational
	{Phrase: "quality reporting", Weight: 0.7, Domain: DomainOperational},
	{Phrase: "documentation", Weight: 0.6, Domain: DomainOperational},
	{Phrase: "assessment", Weight: 0.7, Domain: DomainOperational},
	{Phrase: "discharge planning", Weight: 0.6, Domain: DomainOperational},
	{Phrase: "care planning", Weight: 0.6, Domain: DomainOperational},

	// Compliance
	{Phrase: "prior authorization", Weight: 1.0, Domain: DomainCompliance},
	{Phrase: "infection control", Weight: 0.7, Domain: DomainCompliance},
	{Phrase: "medication management", Weight: 0.7, Domain: DomainCompliance},
	{Phrase: "resident rights", Weight: 0.6, Domain: DomainCompliance},
	{Phrase: "privacy", Weight: 0.5, Domain: DomainCompliance},
	{Phrase: "hipaa", Weight: 0.6, Domain: DomainCompliance},

	// Administrative
	{Phrase: "reporting requirement", Weight: 0.5, Domain: DomainAdministrative},
	{Phrase: "notice requirement", Weight: 0.4, Domain: DomainAdministrative},
	{Phrase: "record keeping", Weight: 0.4, Domain: DomainAdministrative},
	{Phrase: "training", Weight: 0.5, Domain: DomainAdministrative},
}

// Default returns a table built from DefaultTerms
func Default() *Table {
	t, err := NewTable(DefaultTerms)
	if err != nil {
		panic(err)
	}
	return t
}
