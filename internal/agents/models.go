package agents

// Row types returned by agents. Monetary values are plain float64 and dates
// ISO-8601 strings, storage-native types never cross the agent boundary.

type Transaction struct {
	ID              string  `json:"id"`
	Date            string  `json:"date"`
	Description     string  `json:"description"`
	Amount          float64 `json:"amount"`
	Type            string  `json:"type"`
	Category        string  `json:"category,omitempty"`
	Merchant        string  `json:"merchant,omitempty"`
	ReferenceNumber string  `json:"referenceNumber,omitempty"`
}

type SpendingSummary struct {
	TotalSpent       float64 `json:"totalSpent"`
	TotalReceived    float64 `json:"totalReceived"`
	TransactionCount int     `json:"transactionCount"`
	AverageAmount    float64 `json:"averageAmount"`
	FirstDate        string  `json:"firstDate,omitempty"`
	LastDate         string  `json:"lastDate,omitempty"`
	UniqueMerchants  int     `json:"uniqueMerchants"`
	UniqueCategories int     `json:"uniqueCategories"`
}

type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

type MerchantTotal struct {
	Merchant string  `json:"merchant"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// TransactionsPayload is the tagged result of the transactions agent. Kind
// selects which fields are populated.
type TransactionsPayload struct {
	Kind         string          `json:"kind"` // summary, category_breakdown, merchant_breakdown, detail, search
	Summary      *SpendingSummary `json:"summary,omitempty"`
	Categories   []CategoryTotal  `json:"categories,omitempty"`
	Merchants    []MerchantTotal  `json:"merchants,omitempty"`
	Transaction  *Transaction     `json:"transaction,omitempty"`
	Transactions []Transaction    `json:"transactions,omitempty"`
	Count        int              `json:"count"`
}

type CustomerProfile struct {
	CIF           string `json:"cif"`
	FullName      string `json:"fullName"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Age           int    `json:"age"`
	Occupation    string `json:"occupation,omitempty"`
	IncomeBracket string `json:"incomeBracket,omitempty"`
	RiskProfile   string `json:"riskProfile,omitempty"`
	MaritalStatus string `json:"maritalStatus,omitempty"`
	Education     string `json:"education,omitempty"`
}

// CustomerActivity carries the counters attached to a complete profile.
type CustomerActivity struct {
	TransactionCount int     `json:"transactionCount"`
	TotalSpent       float64 `json:"totalSpent"`
	ContactCount     int     `json:"contactCount"`
	PromotionCount   int     `json:"promotionCount"`
}

// SegmentCohort describes customers similar to the requester.
type SegmentCohort struct {
	Size            int             `json:"size"`
	ModalOccupation string          `json:"modalOccupation,omitempty"`
	IncomeBracket   string          `json:"incomeBracket,omitempty"`
	RiskProfile     string          `json:"riskProfile,omitempty"`
	TopCategories   []CategoryTotal `json:"topCategories,omitempty"`
}

type CustomerPayload struct {
	Kind     string            `json:"kind"` // profile, complete, segment
	Profile  *CustomerProfile  `json:"profile,omitempty"`
	Activity *CustomerActivity `json:"activity,omitempty"`
	Cohort   *SegmentCohort    `json:"cohort,omitempty"`
}

type Contact struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	AccountNumber     string  `json:"accountNumber,omitempty"`
	BankName          string  `json:"bankName,omitempty"`
	ContactType       string  `json:"contactType,omitempty"`
	TransferFrequency int     `json:"transferFrequency"`
	LastTransferDate  string  `json:"lastTransferDate,omitempty"`
	TotalTransferred  float64 `json:"totalTransferred"`
}

type ContactStats struct {
	TotalContacts    int     `json:"totalContacts"`
	TotalFrequency   int     `json:"totalFrequency"`
	AverageFrequency float64 `json:"averageFrequency"`
	TopContact       string  `json:"topContact,omitempty"`
}

type BankGroup struct {
	BankName       string    `json:"bankName"`
	ContactCount   int       `json:"contactCount"`
	TotalFrequency int       `json:"totalFrequency"`
	MostRecent     string    `json:"mostRecent,omitempty"`
	Samples        []Contact `json:"samples,omitempty"`
}

type ContactsPayload struct {
	Kind     string        `json:"kind"` // frequent, bank_breakdown, search, recent, all
	Contacts []Contact     `json:"contacts,omitempty"`
	Stats    *ContactStats `json:"stats,omitempty"`
	Banks    []BankGroup   `json:"banks,omitempty"`
	Count    int           `json:"count"`
}
