package cucumber

import (
	"fmt"
	"strings"

	"github.com/cucumber/godog"
	"github.com/pmezard/go-difflib/difflib"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
		ctx.Step(`^the response should contain "([^"]*)"$`, s.theResponseShouldContain)
		ctx.Step(`^the "(.*)" selection from the response should match "([^"]*)"$`, s.theSelectionShouldMatch)
		ctx.Step(`^the "(.*)" selection from the response should match:$`, s.theSelectionShouldMatchDoc)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionAs)
		ctx.Step(`^the response header "([^"]*)" should match "([^"]*)"$`, s.theResponseHeaderShouldMatch)
		ctx.Step(`^\${([^}]*)} is not empty$`, s.variableIsNotEmpty)
	})
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	sess := s.Session()
	if sess.Resp == nil {
		return fmt.Errorf("no HTTP response available")
	}
	if sess.Resp.StatusCode != expected {
		return fmt.Errorf("expected response code %d, got %d, body: %s", expected, sess.Resp.StatusCode, sess.RespBytes)
	}
	return nil
}

func (s *TestScenario) theResponseShouldContainJSON(expected *godog.DocString) error {
	sess := s.Session()
	if len(sess.RespBytes) == 0 {
		return fmt.Errorf("empty response, expected a json body")
	}
	return s.JSONMustContain(sess.RespBytes, expected.Content)
}

func (s *TestScenario) theResponseShouldContain(expected string) error {
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if body := string(s.Session().RespBytes); !strings.Contains(body, expanded) {
		return fmt.Errorf("response does not contain %q: %s", expanded, body)
	}
	return nil
}

func (s *TestScenario) selection(selector string) (string, error) {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return "", err
	}
	v, found, err := Select(doc, selector)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("no node matches selector %s", selector)
	}
	if v == nil {
		return "null", nil
	}
	return ToString(v)
}

func (s *TestScenario) theSelectionShouldMatch(selector, expected string) error {
	actual, err := s.selection(selector)
	if err != nil {
		return err
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if actual != expanded {
		return fmt.Errorf("selection %s: expected %q, got %q", selector, expanded, actual)
	}
	return nil
}

func (s *TestScenario) theSelectionShouldMatchDoc(selector string, expected *godog.DocString) error {
	actual, err := s.selection(selector)
	if err != nil {
		return err
	}
	expanded, err := s.Expand(expected.Content)
	if err != nil {
		return err
	}
	if strings.TrimSpace(actual) == strings.TrimSpace(expanded) {
		return nil
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expanded),
		B:        difflib.SplitLines(actual),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return fmt.Errorf("selection %s does not match, diff:\n%s", selector, diff)
}

func (s *TestScenario) iStoreTheSelectionAs(selector, name string) error {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return err
	}
	v, found, err := Select(doc, selector)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no node matches selector %s", selector)
	}
	s.Variables[name] = v
	return nil
}

func (s *TestScenario) theResponseHeaderShouldMatch(header, expected string) error {
	sess := s.Session()
	if sess.Resp == nil {
		return fmt.Errorf("no HTTP response available")
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if actual := sess.Resp.Header.Get(header); actual != expanded {
		return fmt.Errorf("header %s: expected %q, got %q", header, expanded, actual)
	}
	return nil
}

func (s *TestScenario) variableIsNotEmpty(name string) error {
	v, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if v == nil || v == "" {
		return fmt.Errorf("variable ${%s} is empty", name)
	}
	return nil
}
