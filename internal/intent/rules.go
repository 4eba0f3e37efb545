package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var spendingKeywords = []string{
	"spending", "spent", "spend", "expense", "expenses", "purchase",
	"pengeluaran", "belanja", "transaksi", "transaction", "transactions",
}

var knownMerchants = []string{
	"starbucks", "mcdonald", "kfc", "grab", "gojek", "tokopedia",
	"shopee", "lazada", "netflix", "spotify", "indomaret", "alfamart",
	"uniqlo", "zara", "amazon", "traveloka",
}

var categoryKeywords = map[string][]string{
	"food":          {"food", "restaurant", "dining", "makan", "makanan", "coffee", "cafe"},
	"transport":     {"transport", "transportation", "taxi", "ojek", "fuel", "bensin", "parking"},
	"shopping":      {"shopping", "shop", "belanja", "online", "marketplace"},
	"entertainment": {"entertainment", "movie", "cinema", "streaming", "game", "hiburan"},
	"bills":         {"bill", "bills", "utility", "electricity", "listrik", "internet", "tagihan"},
	"health":        {"health", "hospital", "pharmacy", "doctor", "obat", "kesehatan"},
	"education":     {"education", "school", "course", "tuition", "sekolah", "kursus"},
}

var transactionTypeKeywords = map[string][]string{
	"debit":    {"debit", "payment", "paid", "purchase", "bayar", "pembayaran"},
	"credit":   {"credit", "received", "income", "salary", "gaji", "masuk", "terima"},
	"transfer": {"transfer", "send", "sent", "kirim", "transferred"},
}

var contactNouns = []string{
	"contact", "contacts", "recipient", "beneficiary", "payee", "penerima",
}

var bankNames = []string{
	"bca", "mandiri", "bni", "bri", "cimb", "danamon",
	"permata", "maybank", "ocbc", "hsbc", "citibank",
}

var indonesianMarkers = []string{
	"berapa", "pengeluaran", "belanja", "bulan", "minggu", "tahun",
	"kemarin", "transaksi", "kirim", "terima", "siapa", "tagihan",
}

var (
	atMerchantRe = regexp.MustCompile(`\bat\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
	isoDateRe    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthNameRe  = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\b(?:\s+(\d{4}))?`)
	amountRe     = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(k|ribu|rb|m|jt|juta)?\b`)
	limitRe      = regexp.MustCompile(`\b(?:top|first|last|limit)\s+(\d+)\b`)
	frequencyRe  = regexp.MustCompile(`(?:at least|minimum|more than|lebih dari)\s+(\d+)\s+(?:times|transfers|kali)`)
	referenceRe  = regexp.MustCompile(`(?:reference|ref|transaction)\s*(?:number|no\.?|id)?\s*[:#]?\s*([A-Za-z]*\d[A-Za-z0-9-]{4,})`)
)

var monthIndex = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// RuleBased extracts a QueryContext from keyword and pattern matches alone.
// It never fails and never calls out of process, which makes it both the
// default strategy and the fallback for the assisted one.
type RuleBased struct {
	now func() time.Time
}

func NewRuleBased() *RuleBased {
	return &RuleBased{now: time.Now}
}

// NewRuleBasedWithClock pins the reference time for deterministic extraction.
func NewRuleBasedWithClock(now func() time.Time) *RuleBased {
	return &RuleBased{now: now}
}

func (e *RuleBased) Extract(_ context.Context, rawQuery, cif string) (*QueryContext, error) {
	lower := strings.ToLower(rawQuery)
	qc := &QueryContext{
		RawQuery:  rawQuery,
		CIF:       cif,
		Language:  detectLanguage(lower),
		Timestamp: e.now(),
	}

	qc.DateRange = e.extractDateRange(lower)
	if qc.DateRange == nil && containsAny(lower, spendingKeywords) {
		qc.DateRange = defaultDateRange(e.now())
	}

	qc.Merchants = extractMerchants(rawQuery, lower)
	if len(qc.Merchants) == 0 || hasCategoryContext(lower) {
		qc.Categories = extractCategories(lower)
	}
	qc.TransactionType = extractTransactionType(lower)
	extractAmounts(lower, qc)
	qc.ContactFilters = extractContactFilters(lower)
	qc.ReferenceNumber = extractReference(lower)
	qc.Limit = extractLimit(lower)

	return qc, nil
}

func detectLanguage(lower string) string {
	if containsAny(lower, indonesianMarkers) {
		return "id"
	}
	return "en"
}

// defaultDateRange is the two month window applied when a spending question
// names no period: from the first day of the month two months back through
// today. Asked on 2024-01-15, the window starts 2023-11-01.
func defaultDateRange(now time.Time) *DateRange {
	start := time.Date(now.Year(), now.Month()-2, 1, 0, 0, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return &DateRange{Start: start, End: end}
}

func (e *RuleBased) extractDateRange(lower string) *DateRange {
	now := e.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case strings.Contains(lower, "today") || strings.Contains(lower, "hari ini"):
		return &DateRange{Start: today, End: today}
	case strings.Contains(lower, "yesterday") || strings.Contains(lower, "kemarin"):
		d := today.AddDate(0, 0, -1)
		return &DateRange{Start: d, End: d}
	case strings.Contains(lower, "this week") || strings.Contains(lower, "minggu ini"):
		return &DateRange{Start: startOfWeek(today), End: today}
	case strings.Contains(lower, "last week") || strings.Contains(lower, "minggu lalu"):
		start := startOfWeek(today).AddDate(0, 0, -7)
		return &DateRange{Start: start, End: start.AddDate(0, 0, 6)}
	case strings.Contains(lower, "this month") || strings.Contains(lower, "bulan ini"):
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return &DateRange{Start: start, End: today}
	case strings.Contains(lower, "last month") || strings.Contains(lower, "bulan lalu"):
		start := time.Date(today.Year(), today.Month()-1, 1, 0, 0, 0, 0, today.Location())
		return &DateRange{Start: start, End: start.AddDate(0, 1, -1)}
	case strings.Contains(lower, "this year") || strings.Contains(lower, "tahun ini"):
		start := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location())
		return &DateRange{Start: start, End: today}
	case strings.Contains(lower, "last year") || strings.Contains(lower, "tahun lalu"):
		start := time.Date(today.Year()-1, time.January, 1, 0, 0, 0, 0, today.Location())
		return &DateRange{Start: start, End: time.Date(today.Year()-1, time.December, 31, 0, 0, 0, 0, today.Location())}
	}

	if isoDates := isoDateRe.FindAllStringSubmatch(lower, 2); len(isoDates) > 0 {
		first := parseISO(isoDates[0], today.Location())
		if len(isoDates) > 1 {
			second := parseISO(isoDates[1], today.Location())
			if second.Before(first) {
				first, second = second, first
			}
			return &DateRange{Start: first, End: second}
		}
		return &DateRange{Start: first, End: first}
	}

	if m := monthNameRe.FindStringSubmatch(lower); m != nil {
		month := monthIndex[m[1]]
		year := today.Year()
		if m[2] != "" {
			if y, err := strconv.Atoi(m[2]); err == nil {
				year = y
			}
		} else if month > today.Month() {
			// A bare month after the current one refers to last year.
			year--
		}
		start := time.Date(year, month, 1, 0, 0, 0, 0, today.Location())
		return &DateRange{Start: start, End: start.AddDate(0, 1, -1)}
	}

	return nil
}

func startOfWeek(day time.Time) time.Time {
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

func parseISO(m []string, loc *time.Location) time.Time {
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
}

func extractMerchants(rawQuery, lower string) []string {
	var merchants []string
	seen := make(map[string]bool)
	for _, m := range knownMerchants {
		if strings.Contains(lower, m) && !seen[m] {
			merchants = append(merchants, m)
			seen[m] = true
		}
	}
	// Capitalized words after "at" catch merchants outside the known list,
	// e.g. "at Kopi Kenangan". Lowercase trailing words end the name, so
	// "at Starbucks last month" captures only the merchant.
	for _, m := range atMerchantRe.FindAllStringSubmatch(rawQuery, -1) {
		name := strings.ToLower(m[1])
		if !seen[name] {
			merchants = append(merchants, name)
			seen[name] = true
		}
	}
	return merchants
}

// hasCategoryContext reports whether the question asks about a category
// explicitly, which re-enables category extraction even when a merchant
// was already named.
func hasCategoryContext(lower string) bool {
	if strings.Contains(lower, "category") || strings.Contains(lower, "breakdown") || strings.Contains(lower, "kategori") {
		return true
	}
	for name := range categoryKeywords {
		if strings.Contains(lower, name+" spending") || strings.Contains(lower, name+" expenses") {
			return true
		}
	}
	return false
}

func extractCategories(lower string) []string {
	var categories []string
	for _, name := range []string{"food", "transport", "shopping", "entertainment", "bills", "health", "education"} {
		if containsAny(lower, categoryKeywords[name]) {
			categories = append(categories, name)
		}
	}
	return categories
}

func extractTransactionType(lower string) string {
	// Transfer wins over debit when both match, a "send money" question is
	// about transfers even though sending is also a debit. Transfer wording
	// next to a contact noun ("my transfer contacts") is about the contacts
	// themselves, not a transaction filter.
	for _, t := range []string{"transfer", "credit", "debit"} {
		if !containsAny(lower, transactionTypeKeywords[t]) {
			continue
		}
		if t == "transfer" && containsAny(lower, contactNouns) {
			continue
		}
		return t
	}
	return ""
}

func extractAmounts(lower string, qc *QueryContext) {
	hasComparator := strings.Contains(lower, "between") ||
		strings.Contains(lower, "above") || strings.Contains(lower, "more than") ||
		strings.Contains(lower, "greater than") || strings.Contains(lower, "over") ||
		strings.Contains(lower, "below") || strings.Contains(lower, "less than") ||
		strings.Contains(lower, "under")

	matches := amountRe.FindAllStringSubmatch(lower, -1)
	var amounts []float64
	for _, m := range matches {
		raw := strings.ReplaceAll(m[1], ",", ".")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "k", "ribu", "rb":
			v *= 1_000
		case "m", "jt", "juta":
			v *= 1_000_000
		default:
			// A bare number only counts as money next to a comparator,
			// otherwise it is a count, a date or a year.
			if !hasComparator || v < 1000 {
				continue
			}
		}
		amounts = append(amounts, v)
	}
	if len(amounts) == 0 {
		return
	}

	switch {
	case strings.Contains(lower, "between") && len(amounts) >= 2:
		min, max := amounts[0], amounts[1]
		if max < min {
			min, max = max, min
		}
		qc.AmountRange = &AmountRange{Min: &min, Max: &max}
	case strings.Contains(lower, "above") || strings.Contains(lower, "more than") || strings.Contains(lower, "greater than") || strings.Contains(lower, "over"):
		qc.AmountRange = &AmountRange{Min: &amounts[0]}
	case strings.Contains(lower, "below") || strings.Contains(lower, "less than") || strings.Contains(lower, "under"):
		qc.AmountRange = &AmountRange{Max: &amounts[0]}
	default:
		qc.Amount = &amounts[0]
	}
}

func extractContactFilters(lower string) ContactFilters {
	var f ContactFilters
	for _, bank := range bankNames {
		if strings.Contains(lower, bank) {
			f.BankName = bank
			break
		}
	}
	if strings.Contains(lower, "business") || strings.Contains(lower, "company") || strings.Contains(lower, "perusahaan") {
		f.ContactType = "business"
	} else if strings.Contains(lower, "personal") || strings.Contains(lower, "pribadi") {
		f.ContactType = "personal"
	}
	if m := frequencyRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			f.MinFrequency = n
		}
	}
	return f
}

func extractReference(lower string) string {
	if m := referenceRe.FindStringSubmatch(lower); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func extractLimit(lower string) int {
	if m := limitRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if n > MaxLimit {
				return MaxLimit
			}
			return n
		}
	}
	return 0
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
