package cucumber

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I (GET|POST|PUT|PATCH|DELETE) path "([^"]*)"$`, s.sendRequest)
		ctx.Step(`^I (GET|POST|PUT|PATCH|DELETE) path "([^"]*)" with json body:$`, s.SendJSONRequest)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response "([^"]*)" selection to match "([^"]*)"$`, s.iWaitForSelection)
	})
}

func (s *TestScenario) sendRequest(method, path string) error {
	return s.SendJSONRequest(method, path, nil)
}

// SendJSONRequest expands path and body, sends them as the current user and
// stores the response in the user's session.
func (s *TestScenario) SendJSONRequest(method, path string, doc *godog.DocString) error {
	sess := s.Session()

	var body io.Reader
	if doc != nil {
		expanded, err := s.Expand(doc.Content)
		if err != nil {
			return err
		}
		body = strings.NewReader(expanded)
	}
	expandedPath, err := s.Expand(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, s.Suite.APIURL+expandedPath, body)
	if err != nil {
		return err
	}
	// Headers set by a step apply to the next request only.
	req.Header = sess.Header
	sess.Header = http.Header{}
	if req.Header.Get("Authorization") == "" && sess.User != nil {
		req.Header.Set("Authorization", "Bearer "+sess.User.Token)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	sess.reset()
	resp, err := sess.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	sess.Resp = resp
	sess.RespBytes = raw
	return nil
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}

func (s *TestScenario) iWaitForSelection(timeout float64, path, selector, expected string) error {
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))
	var lastErr error
	for {
		lastErr = s.sendRequest(http.MethodGet, path)
		if lastErr == nil {
			lastErr = s.theSelectionShouldMatch(selector, expected)
			if lastErr == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met after %.1f seconds: %w", timeout, lastErr)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
