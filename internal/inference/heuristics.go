package inference

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"crm-backend/internal/models"
)

/*
 * Local rule extraction.
 *
 * Extracts a RuleDocument from free text using keyword proximity over a small
 * vocabulary: spending, visit count, recency, email, "<noun> count" and
 * "between A and B" phrasing.
 *
 * Every candidate condition is anchored at the offset of its keyword. Sorting
 * by anchor gives textual order, and the text between two adjacent anchors
 * decides the connector joining them.
 *
 * A number is claimed by the first family that uses it, so later families
 * falling back to "nearest number" never reuse it. Numbers directly followed
 * by a day/month unit are reserved for recency.
 */

const operatorWindow = 20

var (
	numberPattern   = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)
	timeUnitSuffix  = regexp.MustCompile(`^\s*(?:days?|months?)\b`)
	spendKeywords   = regexp.MustCompile(`spend(?:ing|s)?|spent`)
	visitKeywords   = regexp.MustCompile(`visit(?:s|ed|ing)?|\btimes\b|\bcame\b`)
	recencyKeywords = regexp.MustCompile(`\bmonths?\b|\bdays?\b|\blast\b`)
	overPattern     = regexp.MustCompile(`over\s+(\d+(?:\.\d+)?)`)
	visitedPattern  = regexp.MustCompile(`visited\s+(\d+(?:\.\d+)?)`)
	timesPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s+(?:times|visits)\b`)
	betweenPattern  = regexp.MustCompile(`([a-z]+(?:\s+[a-z]+)?)\s+between\s+\$?(\d+(?:\.\d+)?)\s+and\s+\$?(\d+(?:\.\d+)?)`)
	emailPattern    = regexp.MustCompile(`\bemails?\s+(?:contains?|containing|with|ending in|ending with|from|at|like)\s+"?([a-z0-9@._%+\-]+)"?`)
	domainPattern   = regexp.MustCompile(`@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}`)
	orWord          = regexp.MustCompile(`\bor\b`)
	andWord         = regexp.MustCompile(`\band\b`)
)

var nounCountPattern = regexp.MustCompile(
	`\b([a-z]+)\s+(?:count|counts|number of|no of)\s*(?:(?:greater than|more than|less than|over|under|above|below|>=|<=|>|<)\s*)?(\d+(?:\.\d+)?)`)

type numberToken struct {
	value      float64
	start, end int
	timeUnit   bool
}

type candidate struct {
	cond   models.Condition
	anchor int
}

// extraction holds the per-prompt state of a local inference run.
type extraction struct {
	text       string
	numbers    []numberToken
	claimed    map[int]bool
	candidates []candidate
}

// InferLocal extracts a rule document from text without any provider.
// The result is deterministic for a given input.
func InferLocal(prompt string) models.RuleDocument {
	e := newExtraction(strings.ToLower(prompt))

	e.extractEmail()
	spendHandled, visitHandled := e.extractBetween()
	e.extractNounCounts()
	if !spendHandled {
		e.extractSpending()
	}
	if !visitHandled {
		e.extractVisits()
	}
	e.extractRecency()

	return e.document()
}

func newExtraction(text string) *extraction {
	e := &extraction{text: text, claimed: make(map[int]bool)}
	for _, loc := range numberPattern.FindAllStringIndex(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(text[loc[0]:loc[1]], ",", ""), 64)
		if err != nil {
			continue
		}
		e.numbers = append(e.numbers, numberToken{
			value:    v,
			start:    loc[0],
			end:      loc[1],
			timeUnit: timeUnitSuffix.MatchString(text[loc[1]:]),
		})
	}
	return e
}

func (e *extraction) add(cond models.Condition, anchor int) {
	e.candidates = append(e.candidates, candidate{cond: cond, anchor: anchor})
}

// numberAt returns the token starting at offset.
func (e *extraction) numberAt(offset int) (numberToken, bool) {
	for _, n := range e.numbers {
		if n.start == offset {
			return n, true
		}
	}
	return numberToken{}, false
}

// usable reports whether a number may be taken by a non-recency family.
func (e *extraction) usable(n numberToken) bool {
	return !e.claimed[n.start] && !n.timeUnit
}

// nearest returns the unclaimed number closest to any keyword, together with
// the offset of that keyword.
func (e *extraction) nearest(keywords [][]int, accept func(numberToken) bool) (numberToken, int, bool) {
	best, anchor, found := numberToken{}, 0, false
	bestDist := -1
	for _, n := range e.numbers {
		if !accept(n) {
			continue
		}
		for _, kw := range keywords {
			d := abs(n.start - kw[0])
			if bestDist < 0 || d < bestDist {
				best, anchor, bestDist, found = n, kw[0], d, true
			}
		}
	}
	return best, anchor, found
}

// closestKeyword returns the offset of the keyword nearest to a number.
func closestKeyword(keywords [][]int, n numberToken) int {
	anchor, bestDist := keywords[0][0], -1
	for _, kw := range keywords {
		if d := abs(n.start - kw[0]); bestDist < 0 || d < bestDist {
			anchor, bestDist = kw[0], d
		}
	}
	return anchor
}

// window returns the text within operatorWindow characters of a number.
func (e *extraction) window(n numberToken) string {
	from := max(0, n.start-operatorWindow)
	to := min(len(e.text), n.end+operatorWindow)
	return e.text[from:to]
}

func (e *extraction) extractSpending() {
	keywords := spendKeywords.FindAllStringIndex(e.text, -1)
	if len(keywords) == 0 {
		return
	}

	n, ok := e.numberAfterKeyword(keywords)
	if !ok && strings.Contains(e.text, "spend") {
		for _, m := range overPattern.FindAllStringSubmatchIndex(e.text, -1) {
			if tok, found := e.numberAt(m[2]); found && e.usable(tok) {
				n, ok = tok, true
				break
			}
		}
	}
	if !ok {
		n, _, ok = e.nearest(keywords, e.usable)
	}
	if !ok {
		return
	}

	e.claimed[n.start] = true
	e.add(models.Condition{
		Field:    models.FieldTotalSpending,
		Operator: spendingOperator(e.window(n)),
		Value:    n.value,
	}, closestKeyword(keywords, n))
}

// numberAfterKeyword finds the first number within operatorWindow characters
// after any keyword.
func (e *extraction) numberAfterKeyword(keywords [][]int) (numberToken, bool) {
	for _, kw := range keywords {
		for _, n := range e.numbers {
			if n.start < kw[1] {
				continue
			}
			if n.start-kw[1] > operatorWindow {
				break
			}
			if e.usable(n) {
				return n, true
			}
			break
		}
	}
	return numberToken{}, false
}

func (e *extraction) extractVisits() {
	keywords := visitKeywords.FindAllStringIndex(e.text, -1)
	if len(keywords) == 0 {
		return
	}

	var n numberToken
	ok := false
	for _, pattern := range []*regexp.Regexp{visitedPattern, timesPattern} {
		for _, m := range pattern.FindAllStringSubmatchIndex(e.text, -1) {
			if tok, found := e.numberAt(m[2]); found && e.usable(tok) {
				n, ok = tok, true
				break
			}
		}
		if ok {
			break
		}
	}
	if !ok {
		n, _, ok = e.nearest(keywords, e.usable)
	}
	if !ok {
		return
	}

	e.claimed[n.start] = true
	e.add(models.Condition{
		Field:    models.FieldVisitCount,
		Operator: visitOperator(e.window(n)),
		Value:    n.value,
	}, closestKeyword(keywords, n))
}

func (e *extraction) extractRecency() {
	keywords := recencyKeywords.FindAllStringIndex(e.text, -1)
	if len(keywords) == 0 {
		return
	}

	n, anchor, ok := e.nearest(keywords, func(t numberToken) bool {
		return !e.claimed[t.start] && t.timeUnit
	})
	if !ok {
		n, anchor, ok = e.nearest(keywords, func(t numberToken) bool {
			return !e.claimed[t.start]
		})
	}
	if !ok {
		return
	}

	days := n.value
	if strings.Contains(e.text, "month") {
		days *= 30
	}

	e.claimed[n.start] = true
	e.add(models.Condition{
		Field:    models.FieldLastVisit,
		Operator: models.OpBefore,
		Value:    days,
	}, anchor)
}

func (e *extraction) extractNounCounts() {
	for _, m := range nounCountPattern.FindAllStringSubmatchIndex(e.text, -1) {
		n, ok := e.numberAt(m[4])
		if !ok || e.claimed[n.start] {
			continue
		}
		noun := e.text[m[2]:m[3]]

		e.claimed[n.start] = true
		e.add(models.Condition{
			Field:    noun + "Count",
			Operator: countOperator(e.window(n)),
			Value:    n.value,
		}, m[0])
	}
}

// extractBetween expands "<phrase> between A and B" into an inclusive range.
// It reports which families were consumed so their single-value extraction
// does not run.
func (e *extraction) extractBetween() (spend, visit bool) {
	for _, m := range betweenPattern.FindAllStringSubmatchIndex(e.text, -1) {
		phrase := e.text[m[2]:m[3]]

		var field string
		switch {
		case spendKeywords.MatchString(phrase):
			field, spend = models.FieldTotalSpending, true
		case visitKeywords.MatchString(phrase):
			field, visit = models.FieldVisitCount, true
		default:
			continue
		}

		lo, okLo := e.numberAt(m[4])
		hi, okHi := e.numberAt(m[6])
		if !okLo || !okHi {
			continue
		}
		e.claimed[lo.start] = true
		e.claimed[hi.start] = true

		e.add(models.Condition{Field: field, Operator: models.OpGreaterEqual, Value: lo.value}, m[2])
		e.add(models.Condition{Field: field, Operator: models.OpLessEqual, Value: hi.value}, hi.start)
	}
	return spend, visit
}

func (e *extraction) extractEmail() {
	if m := emailPattern.FindStringSubmatchIndex(e.text); m != nil {
		// a sentence-ending period is not part of the address
		value := strings.TrimRight(e.text[m[2]:m[3]], ".")
		if value != "" {
			e.claimSpan(m[2], m[3])
			e.add(models.Condition{
				Field:    models.FieldEmail,
				Operator: models.OpContains,
				Value:    value,
			}, m[0])
			return
		}
	}

	if loc := domainPattern.FindStringIndex(e.text); loc != nil {
		e.claimSpan(loc[0], loc[1])
		e.add(models.Condition{
			Field:    models.FieldEmail,
			Operator: models.OpContains,
			Value:    e.text[loc[0]:loc[1]],
		}, loc[0])
	}
}

// claimSpan claims every number inside [from, to).
func (e *extraction) claimSpan(from, to int) {
	for _, n := range e.numbers {
		if n.start >= from && n.start < to {
			e.claimed[n.start] = true
		}
	}
}

// document orders the candidates, drops duplicates and infers connectors.
func (e *extraction) document() models.RuleDocument {
	sort.SliceStable(e.candidates, func(i, j int) bool {
		return e.candidates[i].anchor < e.candidates[j].anchor
	})

	kept := make([]candidate, 0, len(e.candidates))
	for _, c := range e.candidates {
		if !containsCondition(kept, c.cond) {
			kept = append(kept, c)
		}
	}

	doc := models.RuleDocument{
		Logic:      models.LogicAnd,
		Conditions: make([]models.Condition, 0, len(kept)),
	}
	for _, c := range kept {
		doc.Conditions = append(doc.Conditions, c.cond)
	}

	if len(kept) >= 2 {
		doc.Connectors = make([]string, 0, len(kept)-1)
		for i := 1; i < len(kept); i++ {
			doc.Connectors = append(doc.Connectors, connectorBetween(e.text, kept[i-1].anchor, kept[i].anchor))
		}
	}

	if orWord.MatchString(e.text) && !andWord.MatchString(e.text) {
		doc.Logic = models.LogicOr
	}

	return doc
}

func connectorBetween(text string, from, to int) string {
	if from < to && orWord.MatchString(text[from:to]) {
		return models.LogicOr
	}
	return models.LogicAnd
}

func containsCondition(list []candidate, cond models.Condition) bool {
	for _, c := range list {
		if c.cond.Field == cond.Field && c.cond.Operator == cond.Operator && c.cond.Value == cond.Value {
			return true
		}
	}
	return false
}

func spendingOperator(window string) string {
	switch {
	case strings.Contains(window, "more than") || strings.Contains(window, "over"):
		return models.OpGreater
	case strings.Contains(window, "less than") || strings.Contains(window, "under"):
		return models.OpLess
	default:
		return models.OpGreaterEqual
	}
}

// visitOperator differs from spendingOperator: "under" does not mean "<".
func visitOperator(window string) string {
	switch {
	case strings.Contains(window, "more than") || strings.Contains(window, "over"):
		return models.OpGreater
	case strings.Contains(window, "less than"):
		return models.OpLess
	default:
		return models.OpGreaterEqual
	}
}

func countOperator(window string) string {
	switch {
	case strings.Contains(window, "greater than") || strings.Contains(window, "more than") || strings.Contains(window, "over"):
		return models.OpGreater
	case strings.Contains(window, "less than") || strings.Contains(window, "under"):
		return models.OpLess
	default:
		return models.OpGreaterEqual
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
