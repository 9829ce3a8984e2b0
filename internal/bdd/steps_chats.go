package bdd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		c := &chatSteps{s: s}
		ctx.Step(`^"([^"]*)" has a direct message with "([^"]*)" stored as \${([^}]*)}$`, c.directMessage)
		ctx.Step(`^"([^"]*)" has a (private|public|channel) room "([^"]*)" with members "([^"]*)" stored as \${([^}]*)}$`, c.room)
		ctx.Step(`^"([^"]*)" accepts the invitation to \${([^}]*)}$`, c.acceptInvite)
		ctx.Step(`^"([^"]*)" sends "([^"]*)" to \${([^}]*)}$`, c.send)
		ctx.Step(`^"([^"]*)" sends "([^"]*)" to \${([^}]*)} stored as \${([^}]*)}$`, c.sendStored)
		ctx.Step(`^the unread count of \${([^}]*)} for "([^"]*)" should be (\d+)$`, c.unreadCount)
		ctx.Step(`^the chat list of "([^"]*)" should be "([^"]*)"$`, c.chatList)
	})
}

type chatSteps struct {
	s *cucumber.TestScenario
}

// call sends body as name and fails unless the status matches.
func (c *chatSteps) call(name, method, path string, status int, body any) error {
	var doc *godog.DocString
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		doc = &godog.DocString{Content: string(raw)}
	}
	return as(c.s, name, func() error {
		if err := c.s.SendJSONRequest(method, path, doc); err != nil {
			return err
		}
		sess := c.s.Session()
		if sess.Resp.StatusCode != status {
			return fmt.Errorf("%s %s as %s: expected %d, got %d: %s", method, path, name, status, sess.Resp.StatusCode, sess.RespBytes)
		}
		return nil
	})
}

// store saves a selection of name's last response.
func (c *chatSteps) store(name, selector, variable string) error {
	return as(c.s, name, func() error {
		doc, err := c.s.Session().RespJSON()
		if err != nil {
			return err
		}
		v, found, err := cucumber.Select(doc, selector)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no node matches selector %s", selector)
		}
		c.s.Variables[variable] = v
		return nil
	})
}

func (c *chatSteps) chatID(variable string) (string, error) {
	return c.s.ResolveString(variable + ".id")
}

func (c *chatSteps) directMessage(owner, peer, variable string) error {
	err := c.call(owner, http.MethodPost, "/v1/chats", http.StatusCreated, map[string]any{
		"type":      "direct_message",
		"memberIds": []string{c.s.UserID(peer)},
	})
	if err != nil {
		return err
	}
	return c.store(owner, ".", variable)
}

func (c *chatSteps) room(owner, kind, name, members, variable string) error {
	var ids []string
	for _, m := range strings.Split(members, ",") {
		if m = strings.TrimSpace(m); m != "" {
			ids = append(ids, c.s.UserID(m))
		}
	}
	err := c.call(owner, http.MethodPost, "/v1/chats", http.StatusCreated, map[string]any{
		"type":      kind,
		"name":      name,
		"memberIds": ids,
	})
	if err != nil {
		return err
	}
	return c.store(owner, ".", variable)
}

func (c *chatSteps) acceptInvite(user, variable string) error {
	id, err := c.chatID(variable)
	if err != nil {
		return err
	}
	return c.call(user, http.MethodPost, "/v1/chats/"+id+"/invitation/accept", http.StatusOK, nil)
}

func (c *chatSteps) send(sender, content, variable string) error {
	id, err := c.chatID(variable)
	if err != nil {
		return err
	}
	return c.call(sender, http.MethodPost, "/v1/chats/"+id+"/messages", http.StatusCreated, map[string]any{"content": content})
}

func (c *chatSteps) sendStored(sender, content, variable, target string) error {
	if err := c.send(sender, content, variable); err != nil {
		return err
	}
	return c.store(sender, ".", target)
}

func (c *chatSteps) summaries(user string) ([]any, error) {
	if err := c.call(user, http.MethodGet, "/v1/chats", http.StatusOK, nil); err != nil {
		return nil, err
	}
	var out []any
	err := as(c.s, user, func() error {
		doc, err := c.s.Session().RespJSON()
		if err != nil {
			return err
		}
		v, _, err := cucumber.Select(doc, "[.data[]]")
		if err != nil {
			return err
		}
		out, _ = v.([]any)
		return nil
	})
	return out, err
}

func (c *chatSteps) unreadCount(variable, user string, expected int) error {
	id, err := c.chatID(variable)
	if err != nil {
		return err
	}
	list, err := c.summaries(user)
	if err != nil {
		return err
	}
	for _, item := range list {
		v, found, err := cucumber.Select(item, `select(.room.id == "`+id+`") | .unreadCount`)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if n, ok := v.(float64); !ok || int(n) != expected {
			return fmt.Errorf("unread count of %s for %s: expected %d, got %v", variable, user, expected, v)
		}
		return nil
	}
	return fmt.Errorf("%s is not in the chat list of %s", variable, user)
}

// chatList compares the room ids of user's chat list, in order, with a comma
// separated list of room variable names.
func (c *chatSteps) chatList(user, variables string) error {
	var want []string
	for _, v := range strings.Split(variables, ",") {
		id, err := c.chatID(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		want = append(want, id)
	}
	list, err := c.summaries(user)
	if err != nil {
		return err
	}
	got := make([]string, 0, len(list))
	for _, item := range list {
		v, _, err := cucumber.Select(item, ".room.id")
		if err != nil {
			return err
		}
		id, _ := v.(string)
		got = append(got, id)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("chat list of %s: expected %v, got %v", user, want, got)
	}
	return nil
}
