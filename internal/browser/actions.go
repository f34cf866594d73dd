// File: internal/browser/actions.go
// Description: Action execution and rule checking against the live tab.
// Expected failures surface as typed ActionResults; only a lost browser
// context propagates as an error.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// PerformAction executes one atomic action. It is safe to retry: every
// action is expressed as an idempotent page operation.
func (d *Driver) PerformAction(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	result := schemas.ActionResult{ActionID: action.ID}

	if err := d.limiter.Wait(ctx); err != nil {
		return result, err
	}

	tabCtx, err := d.tab()
	if err != nil {
		return result, err
	}

	timeout := action.Timeout
	if timeout <= 0 {
		timeout = d.cfg.ActionTimeout
	}
	actionCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	tasks, actual, err := d.buildTasks(action)
	if err != nil {
		// A malformed action can never succeed; report it typed so the
		// engine can pick a recovery instead of retrying blindly.
		result.ErrorType = schemas.ErrTypeOther
		result.Error = err.Error()
		return result, nil
	}

	start := time.Now()
	runErr := chromedp.Run(actionCtx, tasks...)
	result.ExecutionTime = time.Since(start)

	if runErr == nil {
		result.Success = true
		result.ElementFound = true
		if actual != nil {
			result.ActualResult = *actual
		}
		return result, nil
	}

	// The caller's context ending, or the tab dying underneath us, is an
	// infrastructure failure rather than an action outcome.
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if tabCtx.Err() != nil {
		return result, fmt.Errorf("browser context lost: %w", tabCtx.Err())
	}

	result.ErrorType = classifyActionError(runErr)
	result.Error = runErr.Error()
	result.ElementFound = result.ErrorType != schemas.ErrTypeElementNotFound
	d.logger.Debug("Action failed",
		zap.String("action_id", action.ID),
		zap.String("type", string(action.Type)),
		zap.String("error_type", string(result.ErrorType)),
		zap.Error(runErr))
	return result, nil
}

// buildTasks translates the action into chromedp tasks. The returned string
// pointer, when non-nil, receives the observed value.
func (d *Driver) buildTasks(action schemas.Action) (chromedp.Tasks, *string, error) {
	switch action.Type {
	case schemas.ActionNavigate:
		if action.Value == "" {
			return nil, nil, fmt.Errorf("navigate action requires a value")
		}
		return chromedp.Tasks{
			chromedp.Navigate(action.Value),
			chromedp.WaitReady("body", chromedp.ByQuery),
		}, nil, nil

	case schemas.ActionClick:
		if action.Selector == "" {
			return nil, nil, fmt.Errorf("click action requires a selector")
		}
		return chromedp.Tasks{
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Click(action.Selector, chromedp.ByQuery),
		}, nil, nil

	case schemas.ActionInputText:
		if action.Selector == "" {
			return nil, nil, fmt.Errorf("input action requires a selector")
		}
		return chromedp.Tasks{
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Clear(action.Selector, chromedp.ByQuery),
			chromedp.SendKeys(action.Selector, action.Value, chromedp.ByQuery),
		}, nil, nil

	case schemas.ActionSubmit:
		if action.Selector == "" {
			return nil, nil, fmt.Errorf("submit action requires a selector")
		}
		return chromedp.Tasks{
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Submit(action.Selector, chromedp.ByQuery),
		}, nil, nil

	case schemas.ActionScroll:
		script := "window.scrollBy(0, window.innerHeight)"
		if action.Value == "up" {
			script = "window.scrollBy(0, -window.innerHeight)"
		}
		var ignored interface{}
		return chromedp.Tasks{chromedp.Evaluate(script, &ignored)}, nil, nil

	case schemas.ActionWait:
		d := time.Second
		if action.Value != "" {
			parsed, err := time.ParseDuration(action.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("wait action has invalid duration %q: %w", action.Value, err)
			}
			d = parsed
		}
		return chromedp.Tasks{chromedp.Sleep(d)}, nil, nil

	case schemas.ActionObserve:
		if action.Selector == "" {
			return nil, nil, fmt.Errorf("observe action requires a selector")
		}
		observed := new(string)
		return chromedp.Tasks{
			chromedp.WaitReady(action.Selector, chromedp.ByQuery),
			chromedp.Text(action.Selector, observed, chromedp.ByQuery),
		}, observed, nil

	default:
		return nil, nil, fmt.Errorf("unsupported action type %q", action.Type)
	}
}

// classifyActionError maps raw browser errors onto the typed taxonomy the
// recovery selector keys on.
func classifyActionError(err error) schemas.ActionErrorType {
	if errors.Is(err, context.DeadlineExceeded) {
		return schemas.ErrTypeTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "could not find node"),
		strings.Contains(msg, "waiting for selector"),
		strings.Contains(msg, "no nodes found"):
		return schemas.ErrTypeElementNotFound
	case strings.Contains(msg, "net::err_name_not_resolved"),
		strings.Contains(msg, "net::err_connection"),
		strings.Contains(msg, "net::err_internet_disconnected"):
		return schemas.ErrTypeNetwork
	case strings.Contains(msg, "net::err_aborted"),
		strings.Contains(msg, "page load"),
		strings.Contains(msg, "navigation"):
		return schemas.ErrTypeNavigation
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return schemas.ErrTypeTimeout
	default:
		return schemas.ErrTypeOther
	}
}

// CheckRule evaluates one validation rule against the current page.
func (d *Driver) CheckRule(ctx context.Context, rule schemas.Rule) (bool, error) {
	tabCtx, err := d.tab()
	if err != nil {
		return false, err
	}
	checkCtx, cancel := context.WithTimeout(tabCtx, d.cfg.ActionTimeout)
	defer cancel()

	switch rule.Type {
	case schemas.RuleExists:
		var found bool
		script := fmt.Sprintf("document.querySelector(%q) !== null", rule.Selector)
		if err := chromedp.Run(checkCtx, chromedp.Evaluate(script, &found)); err != nil {
			return false, fmt.Errorf("exists check failed for %q: %w", rule.Selector, err)
		}
		return found, nil

	case schemas.RuleContentContains, schemas.RuleContentEquals:
		var content string
		script := fmt.Sprintf("(document.querySelector(%q)?.textContent ?? '')", rule.Selector)
		if err := chromedp.Run(checkCtx, chromedp.Evaluate(script, &content)); err != nil {
			return false, fmt.Errorf("content check failed for %q: %w", rule.Selector, err)
		}
		content = strings.TrimSpace(content)
		if rule.Type == schemas.RuleContentEquals {
			return content == rule.Expected, nil
		}
		return strings.Contains(content, rule.Expected), nil

	default:
		return false, fmt.Errorf("unsupported rule type %q", rule.Type)
	}
}
