package extract

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"counsel/internal/analysis"
	"counsel/internal/logging"
	"counsel/internal/textutil"
)

const (
	maxLabelWords = 6
	maxLabelRunes = 48
	maxJSONDepth  = 3
)

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes   = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

var chatterPrefixes = []string{
	"sure", "certainly", "of course", "absolutely", "okay", "ok,", "ok!", "great question",
	"here is", "here's", "here are", "below is", "below are", "as requested",
	"i hope", "hope this", "let me know", "feel free", "happy to help",
	"thanks", "thank you", "best regards", "good luck",
}

// isChatter reports whether a line is conversational wrapping (a greeting or
// a sign-off) rather than content.
func isChatter(content string) bool {
	lower := strings.ToLower(strings.Trim(content, "*_ "))
	for _, prefix := range chatterPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// collector accumulates recovered fields for one fallback pass.
type collector struct {
	n         *Normalizer
	fields    map[Field]Recovered
	seen      map[Field][]string
	conflicts []Field
	drift     []string
	embedded  bool
}

func newCollector(n *Normalizer) *collector {
	return &collector{
		n:      n,
		fields: make(map[Field]Recovered),
		seen:   make(map[Field][]string),
	}
}

func (c *collector) resolve(label string) resolution {
	res := resolveLabel(c.n.labels, c.n.similarity, c.n.threshold, label)
	if res.ok && res.fuzzy {
		c.n.logger.Debug("fuzzy label resolved",
			logging.String(logging.FieldEventType, "fuzzy_label"),
			logging.String("label", NormalizeLabel(label)),
			logging.String("field", string(res.field)),
			logging.Float64("score", res.score),
		)
	}
	return res
}

func (c *collector) recordDrift(label string) {
	label = NormalizeLabel(label)
	if label == "" {
		return
	}
	c.drift = append(c.drift, label)
	c.n.logger.Debug("schema drift",
		logging.String(logging.FieldEventType, "schema_drift"),
		logging.String("label", label),
	)
}

// commit stores value for field, applying the conflict policy when the field
// already holds a non-empty value.
func (c *collector) commit(field Field, value any, fuzzy bool, label string) {
	c.seen[field] = append(c.seen[field], NormalizeLabel(label))
	incoming := Recovered{Value: value, WasFuzzy: fuzzy, Label: NormalizeLabel(label)}

	existing, ok := c.fields[field]
	if !ok || isEmptyValue(existing.Value) {
		c.fields[field] = incoming
		c.observe(field, value)
		return
	}
	if isEmptyValue(value) {
		return
	}

	if !containsField(c.conflicts, field) {
		c.conflicts = append(c.conflicts, field)
	}
	c.n.logger.Debug("duplicate label",
		logging.String(logging.FieldEventType, "label_conflict"),
		logging.String("field", string(field)),
		logging.String("policy", string(c.n.policy)),
	)

	switch c.n.policy {
	case ConflictLast:
		c.fields[field] = incoming
		c.observe(field, value)
	case ConflictMerge:
		merged, ok := mergeValues(existing.Value, value)
		if !ok {
			return
		}
		existing.Value = merged
		existing.WasFuzzy = existing.WasFuzzy || fuzzy
		c.fields[field] = existing
		c.observe(field, merged)
	}
}

func (c *collector) observe(field Field, value any) {
	if c.n.observer != nil && !isEmptyValue(value) {
		c.n.observer(field, value)
	}
}

func (c *collector) flags() Flags {
	flags := Flags{EmbeddedJSON: c.embedded, Drift: c.drift}
	for _, field := range c.conflicts {
		flags.Conflicts = append(flags.Conflicts, Conflict{
			Field:  field,
			Labels: c.seen[field],
			Policy: c.n.policy,
		})
	}
	return flags
}

func containsField(list []Field, field Field) bool {
	for _, f := range list {
		if f == field {
			return true
		}
	}
	return false
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []string:
		return len(val) == 0
	case []analysis.RiskItem:
		return len(val) == 0
	case []analysis.GlossaryTerm:
		return len(val) == 0
	}
	return false
}

func mergeValues(a, b any) (any, bool) {
	switch left := a.(type) {
	case []string:
		right, ok := b.([]string)
		return append(append([]string{}, left...), right...), ok
	case []analysis.RiskItem:
		right, ok := b.([]analysis.RiskItem)
		return append(append([]analysis.RiskItem{}, left...), right...), ok
	case []analysis.GlossaryTerm:
		right, ok := b.([]analysis.GlossaryTerm)
		return append(append([]analysis.GlossaryTerm{}, left...), right...), ok
	}
	// scalars keep the first value
	return a, false
}

// scanJSON mines the first embedded JSON object for canonical keys. It returns
// the span it consumed so the line scan can skip it.
func (c *collector) scanJSON(raw string) string {
	payload := textutil.ExtractJSON(raw)
	if payload == "" || payload[0] != '{' {
		return ""
	}
	pairs, err := decodeOrdered(payload)
	if err != nil {
		repaired := trailingComma.ReplaceAllString(smartQuotes.Replace(payload), "$1")
		if pairs, err = decodeOrdered(repaired); err != nil {
			return ""
		}
	}
	c.embedded = true
	c.walk(pairs, 0)
	return payload
}

type pair struct {
	key   string
	value any
}

// decodeOrdered decodes a JSON object keeping its top-level key order.
func decodeOrdered(payload string) ([]pair, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("payload is not an object")
	}
	var pairs []pair
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("object key is not a string")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return pairs, nil
}

func (c *collector) walk(pairs []pair, depth int) {
	for _, p := range pairs {
		res := c.resolve(p.key)
		if res.ok {
			if value, ok := coerce(res.field, p.value); ok {
				c.commit(res.field, value, res.fuzzy, p.key)
				continue
			}
		}
		if nested, ok := p.value.(map[string]any); ok && depth < maxJSONDepth {
			// wrapper objects such as {"analysis": {...}}
			inner := make([]pair, 0, len(nested))
			for _, key := range sortedKeys(nested) {
				inner = append(inner, pair{key: key, value: nested[key]})
			}
			c.walk(inner, depth+1)
			continue
		}
		if !res.ok {
			c.recordDrift(p.key)
		}
	}
}

// scanLine is one non-blank line of model output.
type scanLine struct {
	indent  int
	content string
	bullet  bool
	// item is the text the line contributes to a list block.
	item string
}

// block is a field whose value continues on following lines.
type block struct {
	field  Field
	label  string
	fuzzy  bool
	indent int
	inline string
	lines  []scanLine
}

// accepts reports whether an unlabelled line continues the block. A list
// that already carried an inline value only continues with bullets.
func (b *block) accepts(line scanLine) bool {
	if !b.field.isList() {
		return true
	}
	if b.inline == "" {
		return true
	}
	return line.bullet || line.indent > b.indent
}

// scanLabels walks text line by line looking for field labels.
func (c *collector) scanLabels(text string) {
	var open *block
	flush := func() {
		if open != nil {
			c.closeBlock(open)
			open = nil
		}
	}

	for _, raw := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "```") {
			continue
		}
		line := scanLine{indent: indentWidth(raw)}
		line.content, line.bullet = stripBullet(trimmed)
		if line.content == "" {
			continue
		}
		if !line.bullet && isChatter(line.content) {
			continue
		}
		line.item = line.content

		label, value, shape := splitLabel(line.content)
		var res resolution
		if shape != shapeNone {
			res = c.resolve(label)
			if shape == shapeBare && !res.ok {
				shape = shapeNone
			}
		}

		switch {
		case shape == shapeNone:
			if open == nil {
				continue
			}
			if !open.accepts(line) {
				flush()
				continue
			}
			if open.field.isList() {
				open.lines = append(open.lines, line)
				continue
			}
			open.inline = cleanValue(line.content)
			flush()
			continue

		case shape == shapeHeading && !res.ok:
			flush()
			c.recordDrift(label)
			continue
		}

		if open != nil && open.field.isList() && shape != shapeHeading && c.belongsToBlock(open, line, label, res) {
			if res.ok && res.field == open.field {
				line.item = value
			}
			open.lines = append(open.lines, line)
			continue
		}

		if !res.ok {
			c.recordDrift(label)
			continue
		}

		flush()
		next := &block{field: res.field, label: label, fuzzy: res.fuzzy, indent: line.indent, inline: cleanValue(value)}
		if !next.field.isList() && next.inline != "" {
			c.closeBlock(next)
			continue
		}
		open = next
	}
	flush()
}

// belongsToBlock decides whether a labelled line inside a list block is an
// item of that block rather than a new field.
func (c *collector) belongsToBlock(open *block, line scanLine, label string, res resolution) bool {
	if !open.accepts(line) {
		return false
	}
	if line.bullet && line.indent > open.indent {
		return true
	}
	if open.field == FieldRisks {
		if _, ok := riskAttribute(label); ok {
			return true
		}
	}
	if !res.ok {
		return true
	}
	// "- recommendation: x" inside a Recommendations block
	return res.field == open.field
}

func (c *collector) closeBlock(b *block) {
	var (
		value any
		ok    bool
	)
	switch b.field.kind() {
	case kindText:
		value, ok = b.inline, b.inline != ""
	case kindNumber:
		value, ok = ParseConfidence(b.inline)
	case kindBool:
		value, ok = parseBool(b.inline)
	case kindList:
		value, ok = listItems(b)
	case kindRisks:
		value, ok = riskItems(b)
	case kindGlossary:
		value, ok = glossaryItems(b)
	}
	if ok {
		c.commit(b.field, value, b.fuzzy, b.label)
	}
}

func listItems(b *block) ([]string, bool) {
	items := []string{}
	if b.inline != "" {
		if isNone(b.inline) && len(b.lines) == 0 {
			return items, true
		}
		items = append(items, splitInline(b.inline)...)
	}
	for _, line := range b.lines {
		if text := cleanValue(line.item); text != "" && !isNone(text) {
			items = append(items, text)
		}
	}
	if len(items) == 0 && len(b.lines) == 0 {
		return nil, false
	}
	return items, true
}

func riskItems(b *block) ([]analysis.RiskItem, bool) {
	items := []analysis.RiskItem{}
	if b.inline != "" {
		if isNone(b.inline) && len(b.lines) == 0 {
			return items, true
		}
		if !isNone(b.inline) {
			items = append(items, parseRiskText(b.inline))
		}
	}
	for _, line := range b.lines {
		if label, value, shape := splitLabel(line.item); shape == shapeExplicit {
			if attr, ok := riskAttribute(label); ok && attr != "grounded" {
				if n := len(items); n > 0 && setRiskAttribute(&items[n-1], attr, value) {
					continue
				}
				var item analysis.RiskItem
				setRiskAttribute(&item, attr, value)
				items = append(items, item)
				continue
			}
		}
		if isNone(line.item) {
			continue
		}
		items = append(items, parseRiskText(line.item))
	}
	if len(items) == 0 && len(b.lines) == 0 {
		return nil, false
	}
	return items, true
}

func glossaryItems(b *block) ([]analysis.GlossaryTerm, bool) {
	terms := []analysis.GlossaryTerm{}
	if b.inline != "" {
		if isNone(b.inline) && len(b.lines) == 0 {
			return terms, true
		}
		if term, ok := parseGlossaryText(b.inline); ok {
			terms = append(terms, term)
		}
	}
	for _, line := range b.lines {
		if term, ok := parseGlossaryText(line.item); ok {
			terms = append(terms, term)
		}
	}
	if len(terms) == 0 && len(b.lines) == 0 {
		return nil, false
	}
	return terms, true
}

type labelShape int

const (
	shapeNone labelShape = iota
	// Label: value, **Label** value
	shapeExplicit
	// ## Label
	shapeHeading
	// a short line that is only a label, e.g. "RECOMMENDATIONS"
	shapeBare
)

// splitLabel separates "Label: value", "**Label** value" and "## Label" forms.
func splitLabel(content string) (label, value string, shape labelShape) {
	if strings.HasPrefix(content, "#") {
		heading := strings.TrimSpace(strings.TrimLeft(content, "#"))
		if before, after, found := strings.Cut(heading, ":"); found && plausibleLabel(before) {
			return before, after, shapeHeading
		}
		if heading == "" {
			return "", "", shapeNone
		}
		return heading, "", shapeHeading
	}
	for _, marker := range []string{"**", "__"} {
		if !strings.HasPrefix(content, marker) {
			continue
		}
		end := strings.Index(content[len(marker):], marker)
		if end <= 0 {
			break
		}
		inner := strings.TrimSpace(content[len(marker) : len(marker)+end])
		rest := strings.TrimSpace(content[len(marker)+end+len(marker):])
		rest = strings.TrimSpace(strings.TrimLeft(rest, ":-–—"))
		inner = strings.TrimSpace(strings.TrimRight(inner, ":"))
		if before, after, found := strings.Cut(inner, ":"); found && rest == "" {
			// **Risk Level: High**
			inner, rest = strings.TrimSpace(before), strings.TrimSpace(after)
		}
		if plausibleLabel(inner) {
			return inner, rest, shapeExplicit
		}
		break
	}
	if before, after, found := strings.Cut(content, ":"); found && plausibleLabel(before) {
		return before, after, shapeExplicit
	}
	bare := strings.TrimSpace(strings.Trim(content, "*_"))
	if plausibleLabel(bare) && len(strings.Fields(bare)) <= 3 && bare == strings.TrimRight(bare, ".!?,;") {
		return bare, "", shapeBare
	}
	return "", "", shapeNone
}

func plausibleLabel(label string) bool {
	label = strings.TrimSpace(strings.Trim(label, "*_` "))
	if label == "" || utf8.RuneCountInString(label) > maxLabelRunes {
		return false
	}
	if len(strings.Fields(label)) > maxLabelWords {
		return false
	}
	lower := strings.ToLower(label)
	if strings.HasPrefix(lower, "http") || strings.ContainsAny(label, "{}[]<>") {
		return false
	}
	return true
}

func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}
