package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/carouseldb/carousel/internal/errors"
	"github.com/carouseldb/carousel/internal/storage/query"
	"github.com/carouseldb/carousel/internal/storage/types"
)

// queryDocument is the JSON body of a query request. Range bounds may
// be given as integers (nanoseconds) or ISO-8601 basic strings; a
// "from" later than "to" requests a backward stream.
type queryDocument struct {
	Select string `json:"select"`
	Range  struct {
		From any `json:"from"`
		To   any `json:"to"`
	} `json:"range"`
	Where  map[string]string `json:"where"`
	Output struct {
		Format string `json:"format"`
	} `json:"output"`
}

type errDocument struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errDocument{Error: msg})
}

// queryHandler executes a query document and streams one CSV row per
// point: series,timestamp,value. An empty body with status 200 means
// the range legitimately retains no data.
func (a *API) queryHandler(w http.ResponseWriter, r *http.Request) {
	var doc queryDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "malformed query document: "+err.Error())
		return
	}

	req, err := buildRequest(&doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cur, err := a.svc.Query(r.Context(), *req)
	if err != nil {
		if errors.Is(err, errors.ErrBadQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=UTF-8")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	rows := 0
	for {
		p, ok := cur.Next()
		if !ok {
			break
		}
		fmt.Fprintf(w, "%s,%s,%s\r\n",
			p.Series,
			types.FormatTimestamp(p.Timestamp),
			strconv.FormatFloat(p.Value, 'g', -1, 64))
		rows++
		if flusher != nil && rows%1000 == 0 {
			flusher.Flush()
		}
	}
	if err := cur.Err(); err != nil {
		// Client went away mid-stream; engine state is untouched.
		a.log.Debug("query stream aborted", "error", err, "rows", rows)
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}

// buildRequest translates a query document into an engine request.
func buildRequest(doc *queryDocument) (*query.Request, error) {
	if doc.Select == "" {
		return nil, errors.Wrap(errors.ErrBadQuery, "missing select")
	}
	if doc.Output.Format != "" && doc.Output.Format != "csv" {
		return nil, errors.Wrapf(errors.ErrBadQuery, "unsupported output format %q", doc.Output.Format)
	}
	if doc.Range.From == nil || doc.Range.To == nil {
		return nil, errors.ErrUnknownRange
	}

	begin, err := parseInstant(doc.Range.From)
	if err != nil {
		return nil, errors.Wrap(errors.ErrBadQuery, "range.from: "+err.Error())
	}
	end, err := parseInstant(doc.Range.To)
	if err != nil {
		return nil, errors.Wrap(errors.ErrBadQuery, "range.to: "+err.Error())
	}

	series, err := seriesFromDocument(doc)
	if err != nil {
		return nil, err
	}

	return &query.Request{Series: series, Begin: begin, End: end}, nil
}

// parseInstant accepts a JSON number (nanoseconds) or an ISO-8601
// basic timestamp string.
func parseInstant(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return types.ParseTimestamp(t)
	default:
		return 0, fmt.Errorf("unsupported instant %T", v)
	}
}

// seriesFromDocument assembles the canonical series key from the
// metric name and the where-clause tag set.
func seriesFromDocument(doc *queryDocument) (string, error) {
	parts := make([]string, 0, len(doc.Where)+1)
	parts = append(parts, doc.Select)
	for k, v := range doc.Where {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts[1:])

	series, err := types.CanonicalSeries(strings.Join(parts, " "))
	if err != nil {
		return "", errors.Wrap(errors.ErrBadQuery, err.Error())
	}
	return series, nil
}

// statsHandler renders the free-space document. The snapshot is the
// atomically published state after the most recently completed write;
// building the response takes no engine lock.
func (a *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	vs := a.svc.VolumeStats()
	ing := a.svc.IngestStats()
	qs := a.svc.QueryStats()
	cs := a.svc.CacheStats()

	doc := make(map[string]any, len(vs.Volumes)+4)
	for _, v := range vs.Volumes {
		doc[fmt.Sprintf("volume_%d", v.Index)] = map[string]any{
			"free_space": v.FreeSpace,
			"capacity":   v.Capacity,
			"generation": v.Generation,
		}
	}
	doc["active_volume"] = vs.ActiveIndex
	doc["ingest"] = map[string]any{
		"received":      ing.Received,
		"rejected":      ing.Rejected,
		"flushed":       ing.Flushed,
		"flush_errors":  ing.FlushErrors,
		"cache_pending": cs.Pending,
		"decode_errors": a.svc.DecodeErrors(),
		"rotations":     vs.Rotations,
		"evictions":     vs.Evictions,
	}
	doc["query"] = map[string]any{
		"executed": qs.Queries,
		"rows":     qs.Rows,
	}
	doc["latency"] = a.svc.Latency()
	doc["uptime_seconds"] = int64(a.svc.Uptime().Seconds())

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	json.NewEncoder(w).Encode(doc)
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if a.svc.Halted() {
		status["status"] = "halted"
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	json.NewEncoder(w).Encode(status)
}
