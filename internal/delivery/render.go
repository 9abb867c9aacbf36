// Package delivery renders alert and digest emails and transmits them
// through a SendGrid-style mail API.
package delivery

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"forewarn/internal/types"
)

//go:embed templates/*.txt
var templateFS embed.FS

// driverThreshold is the minimum factor score worth calling out as a
// driver in the email body.
const driverThreshold = 0.5

// conditionTitles maps conditions to the noun used in subjects and bodies.
var conditionTitles = map[types.Condition]string{
	types.ConditionMigraine:  "Migraine",
	types.ConditionSinusitis: "Sinusitis",
}

// Renderer produces plain-text email content from an alert payload.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("delivery").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse delivery templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

type alertView struct {
	Condition   string
	Probability string
	Window      string
	Summary     string
	Drivers     []string
	Tips        []string
}

type templateData struct {
	Name   string
	City   string
	Alerts []alertView
}

// Render fills the payload's Subject and Body from its verdicts.
func (r *Renderer) Render(sub types.Subscriber, payload *types.AlertPayload) error {
	if len(payload.Verdicts) == 0 {
		return fmt.Errorf("cannot render delivery with no verdicts")
	}

	name := sub.Name
	if name == "" {
		name = "there"
	}
	data := templateData{
		Name: name,
		City: payload.Location.City,
	}
	for _, v := range payload.Verdicts {
		data.Alerts = append(data.Alerts, buildAlertView(v))
	}

	tmplName := "alert.txt"
	if payload.Kind == types.DeliveryDigest {
		tmplName = "digest.txt"
	}

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, tmplName, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", tmplName, err)
	}

	payload.Subject = r.subject(payload)
	payload.Body = buf.String()
	return nil
}

func (r *Renderer) subject(payload *types.AlertPayload) string {
	if payload.Kind == types.DeliveryDigest {
		return "Your Daily Health Digest"
	}

	titles := make([]string, 0, len(payload.Verdicts))
	for _, v := range payload.Verdicts {
		titles = append(titles, conditionTitles[v.Condition])
	}
	subject := strings.Join(titles, " and ") + " Alert"
	if payload.Location.City != "" {
		subject += " for " + payload.Location.City
	}
	return subject
}

func buildAlertView(v *types.RiskVerdict) alertView {
	view := alertView{
		Condition:   conditionTitles[v.Condition],
		Probability: string(v.Probability),
		Window: fmt.Sprintf("%s to %s UTC",
			v.WindowStart.Format("Jan 2 15:04"),
			v.WindowEnd.Format("15:04")),
		Drivers: topDrivers(v.Scores),
	}
	if v.Remote != nil {
		view.Summary = v.Remote.AnalysisText
		if view.Summary == "" {
			view.Summary = v.Remote.Rationale
		}
		view.Tips = v.Remote.PreventionTips
	}
	return view
}

// topDrivers lists the factors scoring at or above the callout threshold,
// strongest first.
func topDrivers(scores types.FactorScores) []string {
	type scored struct {
		factor types.Factor
		value  float64
	}
	var all []scored
	for _, f := range types.AllFactors {
		if s, ok := scores[f]; ok && s >= driverThreshold {
			all = append(all, scored{f, s})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].value > all[j].value })

	out := make([]string, 0, len(all))
	for _, s := range all {
		out = append(out, strings.ReplaceAll(string(s.factor), "_", " "))
	}
	return out
}
