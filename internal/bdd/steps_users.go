package bdd

import (
	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		ctx.Step(`^I am user "([^"]*)"$`, func(name string) error {
			s.UseUser(name)
			return nil
		})
		ctx.Step(`^I am anonymous$`, func() error {
			s.CurrentUser = ""
			return nil
		})
	})
}

// as runs fn with name as the current user and restores the previous caller.
func as(s *cucumber.TestScenario, name string, fn func() error) error {
	prev := s.CurrentUser
	s.UseUser(name)
	defer func() { s.CurrentUser = prev }()
	return fn()
}
