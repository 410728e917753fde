package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pitwall/pitwall/server/internal/strategy"
)

// Webhook types accepted in alerts.webhooks[].type.
const (
	WebhookSlack = "slack"
	WebhookTeams = "teams"
	WebhookHTTP  = "http"
)

// eventStrategyAlert tags the generic HTTP payload.
const eventStrategyAlert = "strategy_alert"

// fact is one labelled line of a chat notification.
type fact struct{ name, value string }

// windowJSON is the pit window of the HTTP payload. Laps are race laps; all
// zero means no stop is planned.
type windowJSON struct {
	Min   int `json:"min"`
	Ideal int `json:"ideal"`
	Max   int `json:"max"`
}

// strategyEvent is the body posted to "http" webhooks. The flat fields let
// a receiver route on the call without unpacking the alert.
type strategyEvent struct {
	Event        string     `json:"event"`
	State        string     `json:"state"`
	DriverNumber int        `json:"driver_number"`
	Lap          int        `json:"lap"`
	Action       string     `json:"action"`
	Confidence   float64    `json:"confidence"`
	Window       windowJSON `json:"window"`
	Alert        *Alert     `json:"alert"`
}

// deliver posts a to every configured webhook. Failures are logged.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		body, err := payload(wh.Type, a)
		if err != nil {
			slog.Warn("alerts: skipping webhook", "type", wh.Type, "err", err)
			continue
		}
		if err := e.post(url, body); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "driver", a.DriverNumber, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "driver", a.DriverNumber, "action", a.Strategy.Action, "state", a.State)
	}
}

// payload renders a in the format of one webhook type.
func payload(kind string, a *Alert) ([]byte, error) {
	var v interface{}
	switch kind {
	case WebhookSlack:
		v = slackMessage(a)
	case WebhookTeams:
		v = teamsCard(a)
	case WebhookHTTP:
		v = strategyEvent{
			Event:        eventStrategyAlert,
			State:        a.State,
			DriverNumber: a.DriverNumber,
			Lap:          lapOf(a),
			Action:       a.Strategy.Action,
			Confidence:   a.Strategy.Confidence,
			Window:       windowJSON{Min: a.Strategy.WindowMin, Ideal: a.Strategy.WindowIdeal, Max: a.Strategy.WindowMax},
			Alert:        a,
		}
	default:
		return nil, fmt.Errorf("alerts: unknown webhook type %q", kind)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("alerts: encode %s payload: %w", kind, err)
	}
	return body, nil
}

func slackMessage(a *Alert) map[string]interface{} {
	fs := facts(a)
	fields := make([]map[string]string, 0, len(fs))
	for _, f := range fs {
		fields = append(fields, map[string]string{"type": "mrkdwn", "text": "*" + f.name + "*\n" + f.value})
	}
	title := label(a) + " " + headline(a)
	return map[string]interface{}{
		"text": title,
		"blocks": []interface{}{
			map[string]interface{}{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": "*" + label(a) + "* " + headline(a)},
			},
			map[string]interface{}{"type": "section", "fields": fields},
		},
	}
}

func teamsCard(a *Alert) map[string]interface{} {
	fs := facts(a)
	list := make([]map[string]string, 0, len(fs))
	for _, f := range fs {
		list = append(list, map[string]string{"name": f.name, "value": f.value})
	}
	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": actionColor(a),
		"summary":    headline(a),
		"title":      "Pitwall " + label(a) + " " + a.RuleName,
		"sections": []interface{}{
			map[string]interface{}{"activityTitle": headline(a), "facts": list},
		},
	}
}

// headline is the one-line summary every format leads with.
func headline(a *Alert) string {
	if a.State == StateResolved {
		return fmt.Sprintf("%s cleared for %s on lap %d", a.RuleName, driverLabel(a), lapOf(a))
	}
	return fmt.Sprintf("%s for %s on lap %d (%s)", orNone(a.Strategy.Action), driverLabel(a), a.Lap, a.RuleName)
}

// facts lists the strategy details shown by the chat formats.
func facts(a *Alert) []fact {
	s := a.Strategy
	out := []fact{
		{"Driver", driverLabel(a)},
		{"Lap", strconv.Itoa(lapOf(a))},
		{"Call", fmt.Sprintf("%s (%.0f%%)", orNone(s.Action), s.Confidence*100)},
		{"Window", windowText(s)},
		{"Tyres", tyreText(s)},
	}
	if s.Position > 0 {
		out = append(out, fact{"Position", "P" + strconv.Itoa(s.Position)})
	}
	if s.Reason != "" {
		out = append(out, fact{"Reason", s.Reason})
	}
	return out
}

func lapOf(a *Alert) int {
	if a.State == StateResolved && a.ResolvedLap > 0 {
		return a.ResolvedLap
	}
	return a.Lap
}

func driverLabel(a *Alert) string {
	if a.Driver == "" {
		return "#" + strconv.Itoa(a.DriverNumber)
	}
	return fmt.Sprintf("%s (#%d)", a.Driver, a.DriverNumber)
}

func windowText(s Strategy) string {
	if s.WindowMin == 0 && s.WindowMax == 0 && s.WindowIdeal == 0 {
		return "no stop"
	}
	return fmt.Sprintf("L%d-L%d, ideal L%d", s.WindowMin, s.WindowMax, s.WindowIdeal)
}

func tyreText(s Strategy) string {
	t := fmt.Sprintf("%s, %d laps", orNone(s.Compound), s.TyreAge)
	if s.NextCompound != "" && s.NextCompound != s.Compound {
		t += " then " + s.NextCompound
	}
	return t
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func label(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical", "warning":
		return "[" + strings.ToUpper(a.Severity) + "]"
	}
	return "[INFO]"
}

// actionColor keys the card colour on the call: red to box, amber to get
// ready, green once cleared.
func actionColor(a *Alert) string {
	if a.State == StateResolved {
		return "2EB67D"
	}
	switch a.Strategy.Action {
	case strategy.PitNow.String():
		return "FF4F6A"
	case strategy.ConsiderPit.String():
		return "FFAB40"
	}
	return "00D4FF"
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("alerts: webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
