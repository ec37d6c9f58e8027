package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/ruleflow/internal/model"
)

const classifySystem = "You classify financial ledger records into exactly one category chosen from a fixed list. " +
	"You MUST respond with ONLY a valid JSON object. Do not include explanatory text or markdown."

const validateSystem = "You review category assignments made by deterministic rules for financial ledger records. " +
	"You MUST respond with ONLY a valid JSON object. Do not include explanatory text or markdown."

// modeGuidance tells the model how cautious the caller is.
var modeGuidance = map[model.Mode]string{
	model.ModeConservative: "Be cautious: report high confidence only when the payee is unambiguous.",
	model.ModeBalanced:     "Report the confidence you actually have.",
	model.ModePermissive:   "Prefer a best guess over no answer, but keep the confidence honest.",
}

func writeRecord(b *strings.Builder, rec model.Record) {
	fmt.Fprintf(b, "Payee: %s\n", rec.Payee)
	fmt.Fprintf(b, "Amount: %s\n", rec.Amount.StringFixed(2))
	if !rec.Date.IsZero() {
		fmt.Fprintf(b, "Date: %s\n", rec.Date.Format("2006-01-02"))
	}
	if rec.Account != "" {
		fmt.Fprintf(b, "Account: %s\n", rec.Account)
	}
}

func writeVocabulary(b *strings.Builder, vocabulary []string) {
	b.WriteString("Categories (use one of these names exactly):\n")
	for _, c := range vocabulary {
		fmt.Fprintf(b, "- %s\n", c)
	}
}

func buildClassifyPrompt(req model.ClassifyRequest) string {
	var b strings.Builder
	b.WriteString("Classify this record.\n\n")
	writeRecord(&b, req.Record)
	b.WriteString("\n")
	writeVocabulary(&b, req.Vocabulary)
	if g, ok := modeGuidance[req.Mode]; ok {
		fmt.Fprintf(&b, "\n%s\n", g)
	}
	b.WriteString(`
Respond with:
{"category": "<one category from the list>", "confidence": <integer 0-100>, "reasoning": "<one sentence>"}`)
	return b.String()
}

func buildValidatePrompt(req model.ValidateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A rule assigned the category %q with confidence %d to this record.\n\n", req.SuggestedCategory, req.RuleConfidence)
	writeRecord(&b, req.Record)
	b.WriteString("\n")
	writeVocabulary(&b, req.Vocabulary)
	b.WriteString(`
Decide whether the assignment is correct. If it is not, name a better category from the list when one fits.
Respond with:
{"verdict": "CONFIRM" or "REJECT", "alternative_category": "<category or null>", "confidence": <integer 0-100 for your answer>, "reasoning": "<one sentence>"}`)
	return b.String()
}

func buildBatchPrompt(reqs []model.ClassifyRequest) string {
	var b strings.Builder
	b.WriteString("Classify each of these records independently.\n\n")
	for _, req := range reqs {
		fmt.Fprintf(&b, "Record id: %s\n", req.Record.ID)
		writeRecord(&b, req.Record)
		b.WriteString("\n")
	}
	if len(reqs) > 0 {
		writeVocabulary(&b, reqs[0].Vocabulary)
		if g, ok := modeGuidance[reqs[0].Mode]; ok {
			fmt.Fprintf(&b, "\n%s\n", g)
		}
	}
	b.WriteString(`
Respond with one entry per record id:
{"results": [{"id": "<record id>", "category": "<one category from the list>", "confidence": <integer 0-100>, "reasoning": "<one sentence>"}]}`)
	return b.String()
}
