package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"finsight/internal/brain"
)

// Query intents inferred from vocabulary. A query can carry several.
const (
	IntentAggregation = "aggregation"
	IntentListing     = "listing"
	IntentAnalysis    = "analysis"
	IntentInformation = "information"
	IntentComparison  = "comparison"
)

var intentVocab = []struct {
	intent string
	words  []string
}{
	{IntentAggregation, []string{"total", "sum", "average", "how much", "count", "berapa"}},
	{IntentListing, []string{"show", "list", "display", "top", "last", "recent", "latest", "history"}},
	{IntentAnalysis, []string{"analyze", "analysis", "breakdown", "pattern", "trend", "insight"}},
	{IntentComparison, []string{"compare", "versus", " vs ", "difference", "banding"}},
}

// inferIntents returns every intent whose vocabulary appears in the query,
// defaulting to information when none does.
func inferIntents(rawQuery string) []string {
	lower := strings.ToLower(rawQuery)
	var intents []string
	for _, iv := range intentVocab {
		for _, w := range iv.words {
			if strings.Contains(lower, w) {
				intents = append(intents, iv.intent)
				break
			}
		}
	}
	if len(intents) == 0 {
		intents = []string{IntentInformation}
	}
	return intents
}

var instructionBlocks = map[string]string{
	IntentAggregation: `Report the aggregate figures (totals, averages, counts) directly.
Do not list individual transactions or records.`,
	IntentListing: `List the most relevant records, between 5 and 8 rows.
For each row include the date, the merchant or name, and the amount.`,
	IntentAnalysis: `Point out the dominant patterns in the data: where the money goes,
how it compares across categories, and anything unusual.`,
	IntentComparison: `Compare the relevant figures side by side and state which is
larger and by how much.`,
	IntentInformation: `Answer the question directly from the data provided. Keep it short.`,
}

// buildGenerationContext renders the single prompt string handed to the
// generation model: the question, the inferred intents, what data is
// available, the merged data itself, and intent-selected instructions.
func buildGenerationContext(result *brain.RunResult, resp *Response) string {
	intents := inferIntents(result.Context.RawQuery)

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", result.Context.RawQuery)
	fmt.Fprintf(&b, "Query intent: %s\n", strings.Join(intents, ", "))
	fmt.Fprintf(&b, "Available data: %s\n", availability(result, resp))

	data, err := json.Marshal(resp.Data)
	if err == nil {
		fmt.Fprintf(&b, "\nData:\n%s\n", data)
	}
	if len(resp.Insights) > 0 {
		fmt.Fprintf(&b, "\nObservations:\n- %s\n", strings.Join(resp.Insights, "\n- "))
	}

	b.WriteString("\nInstructions:\n")
	for _, intent := range intents {
		b.WriteString(instructionBlocks[intent])
		b.WriteString("\n")
	}
	if result.Context.Language == "id" {
		b.WriteString("Answer in Indonesian.\n")
	}
	return b.String()
}

// availability is a short inventory of which domains answered and which
// failed, so the model never invents data that is not there.
func availability(result *brain.RunResult, resp *Response) string {
	var sources []string
	for _, out := range result.Successes {
		sources = append(sources, out.AgentName)
	}
	desc := fmt.Sprintf("%s (kind %s)", strings.Join(sources, ", "), resp.Kind)
	if len(result.Failures) > 0 {
		var failed []string
		for _, out := range result.Failures {
			failed = append(failed, out.AgentName)
		}
		desc += fmt.Sprintf("; unavailable: %s", strings.Join(failed, ", "))
	}
	return desc
}
