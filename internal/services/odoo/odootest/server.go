// Package odootest provides an in-memory Odoo JSON-RPC server for tests.
package odootest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// Fault is returned by a Handler to produce a JSON-RPC error response
type Fault struct {
	Code    int
	Name    string
	Message string
}

func (f *Fault) Error() string { return f.Message }

// SessionExpired is the fault Odoo raises for an invalid session
func SessionExpired() *Fault {
	return &Fault{Code: 100, Name: "odoo.http.SessionExpiredException", Message: "Session expired"}
}

// UserError is a business rule rejection
func UserError(msg string) *Fault {
	return &Fault{Code: 200, Name: "odoo.exceptions.UserError", Message: msg}
}

// Call records one execute_kw invocation
type Call struct {
	Model  string
	Method string
	Args   []interface{}
	Kwargs map[string]interface{}
}

// Handler answers an execute_kw call; returning an error other than *Fault
// produces an HTTP 500.
type Handler func(call Call) (interface{}, error)

// Server is a fake Odoo instance backed by per-model record lists
type Server struct {
	*httptest.Server

	UID int64

	mu       sync.Mutex
	records  map[string][]map[string]interface{}
	handlers map[string]Handler
	calls    []Call
	authN    int
	nextID   int64
}

// NewServer starts a fake server that is closed when the test ends
func NewServer(t testing.TB) *Server {
	s := &Server{
		UID:      2,
		records:  map[string][]map[string]interface{}{},
		handlers: map[string]Handler{},
		nextID:   1000,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// SetRecords replaces the records of model
func (s *Server) SetRecords(model string, recs ...map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[model] = recs
}

// Records returns a copy of the records of model
func (s *Server) Records(model string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.records[model]...)
}

// Handle overrides model.method
func (s *Server) Handle(model, method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[model+"."+method] = h
}

// Calls returns the recorded execute_kw calls to model.method
func (s *Server) Calls(model, method string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Model == model && c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Authentications returns how many times common.authenticate was called
func (s *Server) Authentications() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authN
}

type request struct {
	ID     interface{} `json:"id"`
	Params struct {
		Service string            `json:"service"`
		Method  string            `json:"method"`
		Args    []json.RawMessage `json:"args"`
	} `json:"params"`
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/jsonrpc" {
		http.NotFound(w, r)
		return
	}
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.dispatch(req)
	if err != nil {
		fault, ok := err.(*Fault)
		if !ok {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    fault.Code,
				"message": "Odoo Server Error",
				"data":    map[string]interface{}{"name": fault.Name, "message": fault.Message},
			},
		})
		return
	}
	writeJSON(w, map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) dispatch(req request) (interface{}, error) {
	switch req.Params.Service + "." + req.Params.Method {
	case "common.version":
		return map[string]interface{}{"server_version": "17.0", "server_serie": "17.0", "protocol_version": 1}, nil
	case "common.authenticate":
		s.mu.Lock()
		s.authN++
		uid := s.UID
		s.mu.Unlock()
		if uid == 0 {
			return false, nil
		}
		return uid, nil
	case "object.execute_kw":
	default:
		return nil, &Fault{Code: 404, Message: "unknown method " + req.Params.Method}
	}

	if len(req.Params.Args) < 5 {
		return nil, fmt.Errorf("execute_kw needs at least 5 arguments")
	}
	var call Call
	_ = json.Unmarshal(req.Params.Args[3], &call.Model)
	_ = json.Unmarshal(req.Params.Args[4], &call.Method)
	if len(req.Params.Args) > 5 {
		_ = json.Unmarshal(req.Params.Args[5], &call.Args)
	}
	if len(req.Params.Args) > 6 {
		_ = json.Unmarshal(req.Params.Args[6], &call.Kwargs)
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	h := s.handlers[call.Model+"."+call.Method]
	s.mu.Unlock()

	if h != nil {
		return h(call)
	}
	return s.builtin(call)
}

func (s *Server) builtin(call Call) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch call.Method {
	case "search_read", "search_count":
		var domain []interface{}
		if len(call.Args) > 0 {
			domain, _ = call.Args[0].([]interface{})
		}
		matched := s.filter(call.Model, domain)
		if call.Method == "search_count" {
			return len(matched), nil
		}
		if clause, _ := call.Kwargs["order"].(string); clause != "" {
			sortRecords(matched, clause)
		}
		offset := intArg(call.Kwargs["offset"])
		limit := intArg(call.Kwargs["limit"])
		if offset > len(matched) {
			offset = len(matched)
		}
		matched = matched[offset:]
		if limit > 0 && limit < len(matched) {
			matched = matched[:limit]
		}
		return project(matched, call.Kwargs["fields"]), nil

	case "read":
		ids := idSet(call.Args)
		var out []map[string]interface{}
		for _, rec := range s.records[call.Model] {
			if ids[recordID(rec)] {
				out = append(out, rec)
			}
		}
		return project(out, call.Kwargs["fields"]), nil

	case "create":
		vals, _ := call.Args[0].(map[string]interface{})
		s.nextID++
		rec := map[string]interface{}{"id": s.nextID}
		for k, v := range vals {
			rec[k] = v
		}
		s.records[call.Model] = append(s.records[call.Model], rec)
		return s.nextID, nil

	case "write":
		ids := idSet(call.Args[:1])
		vals, _ := call.Args[1].(map[string]interface{})
		for _, rec := range s.records[call.Model] {
			if ids[recordID(rec)] {
				for k, v := range vals {
					rec[k] = v
				}
			}
		}
		return true, nil

	case "unlink":
		ids := idSet(call.Args)
		kept := s.records[call.Model][:0]
		for _, rec := range s.records[call.Model] {
			if !ids[recordID(rec)] {
				kept = append(kept, rec)
			}
		}
		s.records[call.Model] = kept
		return true, nil
	}
	return true, nil
}

func (s *Server) filter(model string, domain []interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	for _, rec := range s.records[model] {
		if matches(rec, domain) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return recordID(out[i]) < recordID(out[j]) })
	return out
}

// sortRecords applies an Odoo order clause such as "write_date desc, id"
func sortRecords(recs []map[string]interface{}, clause string) {
	type key struct {
		field string
		desc  bool
	}
	var keys []key
	for _, part := range strings.Split(clause, ",") {
		f := strings.Fields(part)
		if len(f) == 0 {
			continue
		}
		keys = append(keys, key{field: f[0], desc: len(f) > 1 && strings.EqualFold(f[1], "desc")})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range keys {
			c, ok := order(scalar(recs[i][k.field]), scalar(recs[j][k.field]))
			if !ok || c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// matches evaluates an implicit-AND domain; operators other than leaves are ignored
func matches(rec map[string]interface{}, domain []interface{}) bool {
	for _, leaf := range domain {
		cond, ok := leaf.([]interface{})
		if !ok || len(cond) != 3 {
			continue
		}
		field, _ := cond[0].(string)
		op, _ := cond[1].(string)
		if !compare(scalar(rec[field]), op, cond[2]) {
			return false
		}
	}
	return true
}

func scalar(v interface{}) interface{} {
	if pair, ok := v.([]interface{}); ok && len(pair) > 0 {
		return pair[0]
	}
	return v
}

func compare(have interface{}, op string, want interface{}) bool {
	switch op {
	case "=":
		return equal(have, want)
	case "!=":
		return !equal(have, want)
	case "in":
		list, _ := want.([]interface{})
		for _, w := range list {
			if equal(have, w) {
				return true
			}
		}
		return false
	case ">", ">=", "<", "<=":
		c, ok := order(have, want)
		if !ok {
			return false
		}
		switch op {
		case ">":
			return c > 0
		case ">=":
			return c >= 0
		case "<":
			return c < 0
		default:
			return c <= 0
		}
	}
	return true
}

func equal(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func order(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok1 := a.(string)
	sb, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func intArg(v interface{}) int {
	f, _ := toFloat(v)
	return int(f)
}

func recordID(rec map[string]interface{}) int64 {
	f, _ := toFloat(rec["id"])
	return int64(f)
}

func idSet(args []interface{}) map[int64]bool {
	set := map[int64]bool{}
	if len(args) == 0 {
		return set
	}
	list, _ := args[0].([]interface{})
	for _, v := range list {
		f, _ := toFloat(v)
		set[int64(f)] = true
	}
	return set
}

func project(recs []map[string]interface{}, fields interface{}) []map[string]interface{} {
	names, _ := fields.([]interface{})
	out := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		if len(names) == 0 {
			out = append(out, rec)
			continue
		}
		row := map[string]interface{}{"id": rec["id"]}
		for _, n := range names {
			name, _ := n.(string)
			if v, ok := rec[name]; ok {
				row[name] = v
			}
		}
		out = append(out, row)
	}
	return out
}
