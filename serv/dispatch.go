package serv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cordal-io/cordal/core"
)

// pagination query parameter names and their bound SQL parameter names.
const (
	pageParam   = "page"
	sizeParam   = "size"
	limitParam  = "limit"
	offsetParam = "offset"
)

// PagedResponse is the envelope of a PAGED endpoint.
type PagedResponse struct {
	Data          []core.Row `json:"data"`
	Page          int        `json:"page"`
	Size          int        `json:"size"`
	TotalElements int64      `json:"totalElements"`
	TotalPages    int64      `json:"totalPages"`
	HasNext       bool       `json:"hasNext"`
	HasPrevious   bool       `json:"hasPrevious"`
}

// dispatcher turns endpoint descriptors into HTTP handlers.
type dispatcher struct {
	engine *core.Engine
	log    *zap.SugaredLogger
}

// newDispatcher creates a dispatcher over the service engine.
func newDispatcher(s *Service) *dispatcher {
	return &dispatcher{engine: s.engine, log: s.log}
}

// handler serves one declared endpoint. The descriptor is resolved per
// request so a hot reload takes effect without re-creating the handler.
func (d *dispatcher) handler(endpointName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		err := d.dispatch(w, r, endpointName)
		d.engine.Stats.RecordEndpoint(endpointName, time.Since(start), err == nil)

		if err != nil {
			writeError(w, err)
		}
	}
}

// dispatch runs the full request pipeline: resolve, bind, execute,
// shape.
func (d *dispatcher) dispatch(w http.ResponseWriter, r *http.Request, endpointName string) error {
	e, ok := d.engine.Registry.LookupEndpoint(endpointName)
	if !ok {
		return notFound("unknown endpoint %q", endpointName)
	}
	q, ok := d.engine.Registry.LookupQuery(e.Query)
	if !ok {
		return illegalState("endpoint %q references unresolvable query %q", endpointName, e.Query)
	}

	params, err := extractParams(r, e)
	if err != nil {
		return err
	}

	var page, size int
	if e.Pagination.Enabled {
		page, size, err = extractPagination(r, e.Pagination)
		if err != nil {
			return err
		}
		params[limitParam] = size
		params[offsetParam] = page * size
	}

	rows, total, err := d.execute(r.Context(), e, q, params)
	if err != nil {
		return err
	}

	switch e.Response.Type {
	case core.ResponseSingle:
		if len(rows) == 0 {
			return notFound("no result for endpoint %q", endpointName)
		}
		if len(rows) > 1 {
			d.log.Warnw("single-result endpoint returned multiple rows",
				"endpoint", endpointName, "rows", len(rows))
		}
		writeJSON(w, rows[0])

	case core.ResponsePaged:
		writeJSON(w, pagedResponse(rows, page, size, total))

	default: // LIST
		if rows == nil {
			rows = []core.Row{}
		}
		writeJSON(w, rows)
	}
	return nil
}

// execute runs the data query, and the count query concurrently with it
// when the endpoint is paged and has one configured.
func (d *dispatcher) execute(ctx context.Context, e core.Endpoint, q core.Query,
	params map[string]interface{},
) ([]core.Row, int64, error) {
	if !e.Pagination.Enabled || e.CountQuery == "" {
		rows, err := d.engine.Executor.Execute(ctx, q, params)
		return rows, -1, err
	}

	cq, ok := d.engine.Registry.LookupQuery(e.CountQuery)
	if !ok {
		return nil, 0, illegalState("endpoint %q references unresolvable count query %q",
			e.Name, e.CountQuery)
	}

	// count parameters exclude the pagination binds
	countParams := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k == limitParam || k == offsetParam {
			continue
		}
		countParams[k] = v
	}

	var (
		rows  []core.Row
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rows, err = d.engine.Executor.Execute(gctx, q, params)
		return err
	})
	g.Go(func() (err error) {
		total, err = d.engine.Executor.ExecuteCount(gctx, cq, countParams)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// pagedResponse computes the pagination envelope. A total of -1 means
// no count query was configured; page math degrades gracefully.
func pagedResponse(rows []core.Row, page, size int, total int64) PagedResponse {
	if rows == nil {
		rows = []core.Row{}
	}
	resp := PagedResponse{
		Data:          rows,
		Page:          page,
		Size:          size,
		TotalElements: total,
		HasPrevious:   page > 0,
	}
	if total >= 0 {
		resp.TotalPages = (total + int64(size) - 1) / int64(size)
		resp.HasNext = int64(page) < resp.TotalPages-1
	} else {
		resp.TotalPages = -1
		resp.HasNext = len(rows) == size
	}
	return resp
}

// extractParams pulls every declared parameter from its source and
// coerces it to the declared type.
func extractParams(r *http.Request, e core.Endpoint) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(e.Parameters)+2)

	var body map[string]interface{}
	if hasBodyParams(e) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && body == nil {
			body = map[string]interface{}{}
		}
	}

	for _, p := range e.Parameters {
		raw, present := rawValue(r, body, p)

		if !present || raw == "" {
			if p.DefaultValue != "" {
				v, err := coerce(p.Name, p.Type, p.DefaultValue)
				if err != nil {
					return nil, err
				}
				params[p.Name] = v
				continue
			}
			if p.Required {
				return nil, badRequest(p.Name, "missing required parameter %q", p.Name)
			}
			continue
		}

		v, err := coerce(p.Name, p.Type, raw)
		if err != nil {
			return nil, err
		}
		params[p.Name] = v
	}
	return params, nil
}

// hasBodyParams reports whether any parameter reads the request body.
func hasBodyParams(e core.Endpoint) bool {
	for _, p := range e.Parameters {
		if p.Source == core.SourceBody {
			return true
		}
	}
	return false
}

// rawValue extracts the raw string for one parameter from its source.
func rawValue(r *http.Request, body map[string]interface{}, p core.EndpointParam) (string, bool) {
	switch p.Source {
	case core.SourcePath:
		v := chi.URLParam(r, p.Name)
		return v, v != ""
	case core.SourceQuery:
		if !r.URL.Query().Has(p.Name) {
			return "", false
		}
		return r.URL.Query().Get(p.Name), true
	case core.SourceBody:
		v, ok := body[p.Name]
		if !ok || v == nil {
			return "", false
		}
		return fmt.Sprintf("%v", v), true
	}
	return "", false
}

// coerce converts one raw string to the declared parameter type.
// Numeric parse failures are BadRequest; BOOLEAN accepts true/1/yes as
// true and everything else as false; STRING and TIMESTAMP pass through.
func coerce(name string, t core.ParamType, raw string) (interface{}, error) {
	switch t {
	case core.TypeInteger, core.TypeLong:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, badRequest(name, "parameter %q is not an integer: %q", name, raw)
		}
		return n, nil

	case core.TypeDecimal, core.TypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, badRequest(name, "parameter %q is not a number: %q", name, raw)
		}
		return f, nil

	case core.TypeBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes":
			return true, nil
		}
		return false, nil

	default: // STRING, TIMESTAMP
		return raw, nil
	}
}

// extractPagination reads page and size with validation: page >= 0,
// size in 1..maxSize. Oversized requests are capped, not rejected.
func extractPagination(r *http.Request, p core.PaginationConfig) (page, size int, err error) {
	page = 0
	size = p.DefaultSize

	if raw := r.URL.Query().Get(pageParam); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, badRequest(pageParam, "parameter %q is not an integer: %q", pageParam, raw)
		}
		if n < 0 {
			return 0, 0, badRequest(pageParam, "parameter %q must be >= 0", pageParam)
		}
		page = n
	}

	if raw := r.URL.Query().Get(sizeParam); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, badRequest(sizeParam, "parameter %q is not an integer: %q", sizeParam, raw)
		}
		if n < 1 {
			return 0, 0, badRequest(sizeParam, "parameter %q must be >= 1", sizeParam)
		}
		if n > p.MaxSize {
			n = p.MaxSize
		}
		size = n
	}
	return page, size, nil
}
