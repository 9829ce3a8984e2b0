// Package cucumber runs godog feature files against a live chat-service HTTP API.
//
// Each scenario owns its variables. Every user gets a separate HTTP session holding
// the last response, so "I am user ..." switches whose response the next assertion reads.
//
// Expansion inside step text supports:
//   - ${name}             scenario variable
//   - ${name.field}       nested variable field
//   - ${response.field}   gojq selection on the current user's last response
//   - ${user.alice}       server side id of the feature file user alice
//   - ${value | pipe}     pipes: json, json_escape, string, upper
package cucumber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/google/uuid"
	"github.com/itchyny/gojq"
)

// NewTestSuite returns a suite pointed at the default local listener.
func NewTestSuite() *TestSuite {
	return &TestSuite{
		APIURL: "http://localhost:8080",
		Extra:  map[string]any{},
	}
}

// DefaultOptions runs every feature under testdata/features in random order.
func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{filepath.Join("testdata", "features")},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 4,
	}
}

// ApplyReportOptions switches the output to junit XML when GODOG_REPORT_DIR is set.
// The returned func closes the report file.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	dir := os.Getenv("GODOG_REPORT_DIR")
	if dir == "" {
		return func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(dir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestSuite is shared by all scenarios of a run and may be read concurrently.
type TestSuite struct {
	APIURL   string
	Mu       sync.Mutex
	TestingT *testing.T
	// Extra carries runner specific objects such as the server config.
	Extra map[string]any
}

// TestUser is a caller of the API. In testing mode the bearer token is the user id.
type TestUser struct {
	Name  string
	Token string
}

// TestScenario is the state of one running scenario. It is never shared.
type TestScenario struct {
	Suite       *TestSuite
	CurrentUser string
	// RunID makes user ids unique per scenario so concurrent scenarios never share rooms.
	RunID     string
	Variables map[string]any
	users     map[string]*TestUser
	sessions  map[string]*TestSession
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

// UseUser makes name the current caller, creating the user on first use.
func (s *TestScenario) UseUser(name string) *TestUser {
	u := s.users[name]
	if u == nil {
		u = &TestUser{Name: name, Token: s.UserID(name)}
		s.users[name] = u
	}
	s.CurrentUser = name
	return u
}

// UserID maps a feature file user name to the id the server sees.
func (s *TestScenario) UserID(name string) string {
	return name + "-" + s.RunID
}

// Session returns the HTTP session of the current user.
func (s *TestScenario) Session() *TestSession {
	sess := s.sessions[s.CurrentUser]
	if sess == nil {
		sess = &TestSession{
			User:   s.users[s.CurrentUser],
			Client: &http.Client{Timeout: 30 * time.Second},
			Header: http.Header{},
		}
		s.sessions[s.CurrentUser] = sess
	}
	return sess
}

// TestSession is one user's HTTP client and last response.
type TestSession struct {
	User      *TestUser
	Client    *http.Client
	Header    http.Header
	Resp      *http.Response
	RespBytes []byte
	respJSON  any
}

// RespJSON decodes the last response body once.
func (s *TestSession) RespJSON() (any, error) {
	if s.respJSON == nil {
		if len(s.RespBytes) == 0 {
			return nil, fmt.Errorf("no response body")
		}
		if err := json.Unmarshal(s.RespBytes, &s.respJSON); err != nil {
			return nil, fmt.Errorf("response is not json: %w\n%s", err, s.RespBytes)
		}
	}
	return s.respJSON, nil
}

func (s *TestSession) reset() {
	s.Resp = nil
	s.RespBytes = nil
	s.respJSON = nil
}

// Select runs a gojq query and returns its first result.
func Select(doc any, selector string) (any, bool, error) {
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, false, fmt.Errorf("bad selector %q: %w", selector, err)
	}
	iter := query.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, false, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, false, err
	}
	return v, true, nil
}

// Expand replaces every ${...} reference in value.
func (s *TestScenario) Expand(value string) (string, error) {
	var firstErr error
	out := os.Expand(value, func(name string) string {
		v, err := s.ResolveString(name)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	})
	return out, firstErr
}

func (s *TestScenario) ResolveString(name string) (string, error) {
	v, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	return ToString(v)
}

// ToString renders scalars bare and everything else as json.
func ToString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *TestScenario) Resolve(expr string) (any, error) {
	parts := strings.Split(expr, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	name, pipes := parts[0], parts[1:]

	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return pipeline(pipes, name[1:len(name)-1])
	}

	if name == "response" || strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response[") {
		doc, err := s.Session().RespJSON()
		if err != nil {
			return nil, err
		}
		v, found, err := Select(map[string]any{"response": doc}, "."+name)
		if err != nil {
			return nil, err
		}
		if !found || v == nil {
			return nil, fmt.Errorf("${%s} not found in response:\n%s", name, s.Session().RespBytes)
		}
		return pipeline(pipes, v)
	}

	if id, ok := strings.CutPrefix(name, "user."); ok {
		return pipeline(pipes, s.UserID(id))
	}

	path := strings.Split(name, ".")
	value, ok := s.Variables[path[0]]
	if !ok {
		return nil, fmt.Errorf("variable ${%s} is not defined", path[0])
	}
	for _, key := range path[1:] {
		var err error
		if value, err = child(value, key); err != nil {
			return nil, fmt.Errorf("${%s}: %w", name, err)
		}
	}
	return pipeline(pipes, value)
}

func child(value any, key string) (any, error) {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot index %s with %q", v.Type(), key)
		}
		e := v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key()))
		if !e.IsValid() {
			return nil, fmt.Errorf("key %q not found", key)
		}
		return e.Interface(), nil
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= v.Len() {
			return nil, fmt.Errorf("index %q out of range", key)
		}
		return v.Index(i).Interface(), nil
	case reflect.Struct:
		f := v.FieldByName(key)
		if !f.IsValid() {
			return nil, fmt.Errorf("field %q not found", key)
		}
		return f.Interface(), nil
	}
	return nil, fmt.Errorf("cannot select %q from %T", key, value)
}

func pipeline(pipes []string, value any) (any, error) {
	for _, name := range pipes {
		fn, ok := PipeFunctions[name]
		if !ok {
			return nil, fmt.Errorf("unknown pipe %q", name)
		}
		var err error
		if value, err = fn(value); err != nil {
			return nil, fmt.Errorf("pipe %s: %w", name, err)
		}
	}
	return value, nil
}

// PipeFunctions are the transforms usable as ${value | name}.
var PipeFunctions = map[string]func(any) (any, error){
	"json": func(v any) (any, error) {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return buf.String(), nil
	},
	"json_escape": func(v any) (any, error) {
		raw, err := json.Marshal(fmt.Sprintf("%v", v))
		if err != nil {
			return nil, err
		}
		return strings.Trim(string(raw), `"`), nil
	},
	"string": func(v any) (any, error) { return fmt.Sprintf("%v", v), nil },
	"upper":  func(v any) (any, error) { return strings.ToUpper(fmt.Sprintf("%v", v)), nil },
}

// JSONMustContain checks that every field of expected appears in actual with the same value.
// Arrays must have equal length.
func (s *TestScenario) JSONMustContain(actual []byte, expected string) error {
	var got any
	if err := json.Unmarshal(actual, &got); err != nil {
		return fmt.Errorf("actual is not json: %w\n%s", err, actual)
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	var want any
	if err := json.Unmarshal([]byte(expanded), &want); err != nil {
		return fmt.Errorf("expected is not json: %w\n%s", err, expanded)
	}
	if err := jsonSubset(want, got, "$"); err != nil {
		pretty, _ := json.MarshalIndent(got, "", "  ")
		return fmt.Errorf("%w\nactual:\n%s", err, pretty)
	}
	return nil
}

func jsonSubset(want, got any, path string) error {
	switch w := want.(type) {
	case nil:
		if got != nil {
			return fmt.Errorf("at %s: expected null, got %v", path, got)
		}
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", path, got)
		}
		keys := make([]string, 0, len(w))
		for k := range w {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			gv, ok := g[k]
			if !ok {
				return fmt.Errorf("at %s: missing key %q", path, k)
			}
			if err := jsonSubset(w[k], gv, path+"."+k); err != nil {
				return err
			}
		}
	case []any:
		g, ok := got.([]any)
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", path, got)
		}
		if len(w) != len(g) {
			return fmt.Errorf("at %s: expected %d elements, got %d", path, len(w), len(g))
		}
		for i := range w {
			if err := jsonSubset(w[i], g[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(want, got) {
			return fmt.Errorf("at %s: expected %v, got %v", path, want, got)
		}
	}
	return nil
}

// StepModules register step definitions for every new scenario.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Variables: map[string]any{},
		users:     map[string]*TestUser{},
		sessions:  map[string]*TestSession{},
	}
	ctx.Before(func(c context.Context, _ *godog.Scenario) (context.Context, error) {
		s.RunID = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		return c, nil
	})
	for _, module := range StepModules {
		module(ctx, s)
	}
}
