// Package pagination iterates a paginated source — offset, page, or
// cursor based — accumulating and deduplicating results until a stop
// condition fires or a safety ceiling is reached, per spec.md §4.3.
//
// No single teacher file implements pagination; the per-iteration state
// machine here is original to this package, built to the letter of
// spec.md's algorithm, using the teacher's preference for explicit
// loop/state-struct control (seen in pkg/execution/worker.go's poll loop)
// over a generic iterator abstraction.
package pagination

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/cedricziel/gluepoint/pkg/api"
	"github.com/cedricziel/gluepoint/pkg/apierrors"
	"github.com/cedricziel/gluepoint/pkg/httpcaller"
	"github.com/cedricziel/gluepoint/pkg/predicate"
)

// hardIterationCeiling is the untunable 500-request safety bound used when
// no stopCondition is configured. Per spec.md §9 Open Question (c), this is
// a hard safety bound, not a tunable — unlike MaxPaginationRequests below.
const hardIterationCeiling = 500

// RequestFunc issues one paginated request given the current iteration's
// substitution variables ({page, offset, cursor, limit, pageSize}) and
// returns the raw response.
type RequestFunc func(ctx context.Context, vars map[string]any) (*httpcaller.Response, error)

// Result is what a pagination run produces: the accumulated data plus the
// status/headers of the last issued request, per spec.md §4.3.
type Result struct {
	Data    any
	Status  int
	Headers map[string]string
}

// Driver runs the per-iteration algorithm of spec.md §4.3.
type Driver struct {
	MaxPaginationRequests int
	predicates            *predicate.Evaluator
}

// New creates a Driver. maxPaginationRequests is the configurable ceiling
// used only when a stopCondition is present (default 1000 per spec.md
// §4.3); it has no effect on the hard 500-iteration ceiling used without
// one.
func New(maxPaginationRequests int, predicates *predicate.Evaluator) *Driver {
	if maxPaginationRequests <= 0 {
		maxPaginationRequests = api.Defaults.MaxPaginationRequests
	}
	if predicates == nil {
		predicates = predicate.New()
	}
	return &Driver{MaxPaginationRequests: maxPaginationRequests, predicates: predicates}
}

// state tracks one pagination run's progress.
type state struct {
	page        int
	offset      int
	cursor      any
	hasMore     bool
	loopCounter int
	seenHashes  map[string]struct{}
	allResults  any
	firstHash   string
	prevHash    string
	hasValidData bool
}

// Run iterates pag by repeatedly invoking request, applying dataPath and
// the stop/no-stop-condition termination rules, and returns the
// accumulated Result.
func (d *Driver) Run(ctx context.Context, pag api.Pagination, dataPath string, request RequestFunc) (*Result, error) {
	if pag.Type == api.PaginationDisabled || pag.Type == "" {
		return d.runSingle(ctx, dataPath, request)
	}

	pageSize := pag.EffectivePageSize()
	pageSizeInt, _ := strconv.Atoi(pageSize)
	if pageSizeInt <= 0 {
		pageSizeInt = 50
	}

	st := &state{page: 1, offset: 0, hasMore: true, seenHashes: map[string]struct{}{}}

	ceiling := hardIterationCeiling
	if pag.StopCondition != "" {
		ceiling = d.MaxPaginationRequests
	}

	var lastResp *httpcaller.Response

	for st.hasMore && st.loopCounter < ceiling {
		st.loopCounter++

		vars := map[string]any{
			"page":     st.page,
			"offset":   st.offset,
			"cursor":   st.cursor,
			"limit":    pageSize,
			"pageSize": pageSize,
		}

		resp, err := request(ctx, vars)
		if err != nil {
			return nil, err
		}
		lastResp = resp

		parsed, err := validateAndParse(resp)
		if err != nil {
			return nil, err
		}

		extracted := applyDataPath(parsed, dataPath)

		var nextCursor any
		if pag.Type == api.PaginationCursorBased {
			nextCursor = applyDataPath(parsed, pag.CursorPath)
		}

		if pag.StopCondition != "" {
			done, err := d.stepWithStopCondition(st, extracted, pag.StopCondition, st.loopCounter)
			if err != nil {
				return nil, err
			}
			if done {
				break
			}
		} else {
			d.stepWithoutStopCondition(st, extracted, pageSizeInt, pag.Type)
			if !st.hasMore {
				break
			}
		}

		if !advanceCursor(st, pag, pageSizeInt, nextCursor) {
			break
		}
	}

	data := shapeResult(st.allResults, pag.Type, st.cursor)

	headers := map[string]string{}
	status := 0
	if lastResp != nil {
		headers = lastResp.Headers
		status = lastResp.Status
	}
	return &Result{Data: data, Status: status, Headers: headers}, nil
}

// runSingle handles PaginationDisabled: one request, dataPath extraction,
// no accumulation loop.
func (d *Driver) runSingle(ctx context.Context, dataPath string, request RequestFunc) (*Result, error) {
	resp, err := request(ctx, map[string]any{"page": 1, "offset": 0, "cursor": nil, "limit": "50", "pageSize": "50"})
	if err != nil {
		return nil, err
	}
	parsed, err := validateAndParse(resp)
	if err != nil {
		return nil, err
	}
	extracted := applyDataPath(parsed, dataPath)
	return &Result{Data: extracted, Status: resp.Status, Headers: resp.Headers}, nil
}

// stepWithStopCondition implements spec.md §4.3 step 4.
func (d *Driver) stepWithStopCondition(st *state, extracted any, stopCondition string, iteration int) (done bool, err error) {
	hash := stableHash(extracted)
	empty := isEmpty(extracted)

	switch iteration {
	case 1:
		st.firstHash = hash
		st.hasValidData = !empty
		accumulate(st, extracted)
		st.prevHash = hash
		return false, nil
	case 2:
		if hash == st.firstHash && !empty {
			return false, &apierrors.PaginationConfigError{Message: "first two pages returned identical non-empty data"}
		}
		if empty && !st.hasValidData {
			firedOnEmpty, evalErr := d.evaluateStopCondition(stopCondition, extracted, st, iteration)
			if evalErr != nil {
				return false, evalErr
			}
			if !firedOnEmpty {
				return false, &apierrors.StopConditionError{Message: "both of the first two pages were empty"}
			}
			return true, nil
		}
	default:
		if hash == st.prevHash {
			return true, nil
		}
	}

	stop, err := d.evaluateStopCondition(stopCondition, extracted, st, iteration)
	if err != nil {
		return false, err
	}
	accumulate(st, extracted)
	st.prevHash = hash
	return stop, nil
}

func (d *Driver) evaluateStopCondition(expr string, response any, st *state, iteration int) (bool, error) {
	env := map[string]any{
		"response": response,
		"pageInfo": map[string]any{
			"page":        st.page,
			"offset":      st.offset,
			"cursor":      st.cursor,
			"totalFetched": iteration,
		},
	}
	return d.predicates.Evaluate(expr, env)
}

// stepWithoutStopCondition implements spec.md §4.3 step 5.
func (d *Driver) stepWithoutStopCondition(st *state, extracted any, pageSize int, pagType api.PaginationType) {
	arr, isArray := extracted.([]any)

	// A short page signals exhaustion for offset/page-based sources, but
	// cursor-based sources terminate off the next-cursor value alone
	// (advanceCursor): a provider may return a short final page before a
	// non-null cursor, or a short non-final page.
	if isArray && len(arr) < pageSize && pagType != api.PaginationCursorBased {
		st.hasMore = false
	}

	hash := stableHash(extracted)
	if _, seen := st.seenHashes[hash]; seen {
		st.hasMore = false
		return
	}
	st.seenHashes[hash] = struct{}{}

	if isArray {
		accumulate(st, extracted)
		return
	}

	if !isEmpty(extracted) {
		accumulate(st, extracted)
		st.hasMore = false
	}
}

// advanceCursor implements spec.md §4.3 step 6. Returns false when
// iteration should stop (cursor-based pagination hit a null next cursor).
func advanceCursor(st *state, pag api.Pagination, pageSize int, nextCursor any) bool {
	switch pag.Type {
	case api.PaginationPageBased:
		st.page++
		return true
	case api.PaginationOffsetBased:
		st.offset += pageSize
		return true
	case api.PaginationCursorBased:
		st.cursor = nextCursor
		if nextCursor == nil {
			return false
		}
		if s, ok := nextCursor.(string); ok && s == "" {
			st.cursor = nil
			return false
		}
		return true
	default:
		return true
	}
}

// accumulate appends extracted to the running result set: concat if it is
// an array, push otherwise.
func accumulate(st *state, extracted any) {
	if extracted == nil {
		return
	}
	if arr, ok := extracted.([]any); ok {
		existing, _ := st.allResults.([]any)
		st.allResults = append(existing, arr...)
		return
	}
	existing, _ := st.allResults.([]any)
	st.allResults = append(existing, extracted)
}

// shapeResult applies spec.md §4.3's return-shape rules.
func shapeResult(data any, pagType api.PaginationType, cursor any) any {
	arr, isArray := data.([]any)

	if pagType == api.PaginationCursorBased {
		if isArray {
			return map[string]any{"next_cursor": cursor, "results": arr}
		}
		if m, ok := data.(map[string]any); ok {
			out := map[string]any{"next_cursor": cursor}
			for k, v := range m {
				out[k] = v
			}
			return out
		}
		return map[string]any{"next_cursor": cursor, "results": []any{}}
	}

	if isArray && len(arr) == 1 {
		return arr[0]
	}
	return data
}

// validateAndParse implements spec.md §4.3 step 1-2: raises fatal errors
// for HTML/error-shaped bodies, then auto-detects and parses string bodies
// as JSON/CSV/XML. It does not check the status code; the HTTP caller has
// already failed non-2xx responses.
func validateAndParse(resp *httpcaller.Response) (any, error) {
	bodyStr, isString := resp.Data.(string)
	if !isString {
		return resp.Data, nil
	}

	trimmed := strings.TrimSpace(bodyStr)
	head := trimmed
	if len(head) > 100 {
		head = head[:100]
	}
	lowerHead := strings.ToLower(head)
	if strings.HasPrefix(lowerHead, "<!doctype html") || strings.HasPrefix(lowerHead, "<html") {
		return nil, &apierrors.HtmlResponseError{Snippet: head}
	}

	parsed := autoParse(trimmed)

	if m, ok := parsed.(map[string]any); ok {
		if errVal, exists := m["error"]; exists && errVal != nil {
			return nil, &apierrors.ApiCallError{StatusCode: resp.Status, Message: fmt.Sprintf("response contains error field: %v", errVal)}
		}
		if errsVal, exists := m["errors"]; exists {
			if arr, ok := errsVal.([]any); ok && len(arr) > 0 {
				return nil, &apierrors.ApiCallError{StatusCode: resp.Status, Message: fmt.Sprintf("response contains errors: %v", arr)}
			}
		}
	}

	return parsed, nil
}

// autoParse detects whether s is JSON, XML, or CSV and parses accordingly,
// falling back to the raw string.
func autoParse(s string) any {
	if s == "" {
		return s
	}
	switch s[0] {
	case '{', '[':
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return normalizeJSON(v)
		}
	case '<':
		var v map[string]any
		if err := xmlToMap(s, &v); err == nil {
			return v
		}
	}
	if looksLikeCSV(s) {
		if rows, err := parseCSV(s); err == nil {
			return rows
		}
	}
	return s
}

// normalizeJSON converts json.Unmarshal's map[string]interface{}/
// []interface{} output into the any/[]any shapes the rest of this package
// assumes.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeJSON(vv)
		}
		return out
	case []interface{}:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeJSON(vv)
		}
		return out
	default:
		return t
	}
}

func looksLikeCSV(s string) bool {
	firstLine := s
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine = s[:idx]
	}
	return strings.Contains(firstLine, ",") && !strings.Contains(firstLine, "{")
}

func parseCSV(s string) ([]any, error) {
	r := csv.NewReader(strings.NewReader(s))
	records, err := r.ReadAll()
	if err != nil || len(records) == 0 {
		return nil, fmt.Errorf("not valid csv")
	}
	header := records[0]
	rows := make([]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// xmlToMap does a best-effort generic XML decode into a map. Full
// round-trip XML fidelity is not required; this is used only to surface
// paginated data whose source happens to respond with XML instead of JSON.
func xmlToMap(s string, out *map[string]any) error {
	decoder := xml.NewDecoder(strings.NewReader(s))
	node, err := decodeXMLNode(decoder)
	if err != nil {
		return err
	}
	m, ok := node.(map[string]any)
	if !ok {
		return fmt.Errorf("xml root is not an element")
	}
	*out = m
	return nil
}

func decodeXMLNode(d *xml.Decoder) (any, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeXMLElement(d, start)
		}
	}
}

func decodeXMLElement(d *xml.Decoder, start xml.StartElement) (any, error) {
	children := map[string]any{}
	var text strings.Builder

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeXMLElement(d, t)
			if err != nil {
				return nil, err
			}
			if existing, ok := children[t.Name.Local]; ok {
				if arr, ok := existing.([]any); ok {
					children[t.Name.Local] = append(arr, child)
				} else {
					children[t.Name.Local] = []any{existing, child}
				}
			} else {
				children[t.Name.Local] = child
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) == 0 {
				return strings.TrimSpace(text.String()), nil
			}
			return children, nil
		}
	}
}

// ExtractDataPath exposes applyDataPath for callers (the step executor)
// that need dataPath extraction outside a full pagination run, e.g. for
// Postgres queries which are not paginated through this driver.
func ExtractDataPath(value any, path string) any {
	return applyDataPath(value, path)
}

// applyDataPath walks dot-separated segments of path into value. A missing
// segment leaves value unchanged rather than erroring, per spec.md §9 Open
// Question (a).
func applyDataPath(value any, path string) any {
	if path == "" {
		return value
	}
	segments := strings.Split(path, ".")
	current := value
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return value
		}
		next, exists := m[seg]
		if !exists {
			return value
		}
		current = next
	}
	return current
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case string:
		return t == ""
	default:
		return false
	}
}

// stableHash produces a deterministic hash of v by marshaling to JSON
// (Go's encoding/json sorts map keys) and hashing the bytes.
func stableHash(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}
