package template

import (
	"fmt"
)

// Payload is the provider-agnostic wire form of a template, used both for
// provider submission and as the base for per-recipient interpolation.
// Components are ordered HEADER?, BODY, FOOTER?, BUTTONS?.
type Payload struct {
	Name       string             `json:"name"`
	Language   string             `json:"language"`
	Category   string             `json:"category"`
	Namespace  string             `json:"namespace,omitempty"`
	Components []PayloadComponent `json:"components"`
}

// PayloadComponent is one component of the wire payload
type PayloadComponent struct {
	Type    ComponentType   `json:"type"`
	Format  HeaderFormat    `json:"format,omitempty"`
	Text    string          `json:"text,omitempty"`
	Example *PayloadExample `json:"example,omitempty"`
	Buttons []PayloadButton `json:"buttons,omitempty"`
}

// PayloadExample carries sample values for variable placeholders
type PayloadExample struct {
	HeaderHandle []string   `json:"header_handle,omitempty"`
	BodyText     [][]string `json:"body_text,omitempty"`
}

// PayloadButton is one button of a BUTTONS payload component
type PayloadButton struct {
	Type        ButtonType `json:"type"`
	Text        string     `json:"text"`
	URL         string     `json:"url,omitempty"`
	PhoneNumber string     `json:"phone_number,omitempty"`
}

// BuildPayload compiles a validated template into its wire payload. It fails
// if the template does not pass validation; callers surface the violations
// from Validate instead.
func (t *Template) BuildPayload() (*Payload, error) {
	if vs := t.Validate(); len(vs) > 0 {
		return nil, fmt.Errorf("template is not valid: %s", vs[0])
	}

	p := &Payload{
		Name:      t.Name,
		Language:  t.Language,
		Category:  t.Category,
		Namespace: t.Namespace,
	}

	if h := t.Header(); h != nil {
		pc := PayloadComponent{Type: ComponentHeader, Format: h.Format}
		if pc.Format == "" {
			pc.Format = FormatText
		}
		if pc.Format == FormatText {
			pc.Text = h.Text
		} else {
			pc.Example = &PayloadExample{HeaderHandle: []string{h.MediaRef}}
		}
		p.Components = append(p.Components, pc)
	}

	body := t.Body()
	bc := PayloadComponent{Type: ComponentBody, Text: body.Text}
	if vars := ExtractVariables(body.Text); len(vars) > 0 {
		bc.Example = &PayloadExample{BodyText: [][]string{t.bodySamples(len(vars))}}
	}
	p.Components = append(p.Components, bc)

	if f := t.component(ComponentFooter); f != nil {
		p.Components = append(p.Components, PayloadComponent{Type: ComponentFooter, Text: f.Text})
	}

	if b := t.component(ComponentButtons); b != nil {
		pc := PayloadComponent{Type: ComponentButtons}
		for _, btn := range b.Buttons {
			pc.Buttons = append(pc.Buttons, PayloadButton{
				Type:        btn.Type,
				Text:        btn.Text,
				URL:         btn.URL,
				PhoneNumber: btn.PhoneNumber,
			})
		}
		p.Components = append(p.Components, pc)
	}

	return p, nil
}

// bodySamples returns exactly count example values, using the declared
// samples where provided and generated placeholders for the rest.
func (t *Template) bodySamples(count int) []string {
	samples := make([]string, count)
	for i := 0; i < count; i++ {
		if i < len(t.Samples) && t.Samples[i] != "" {
			samples[i] = t.Samples[i]
		} else {
			samples[i] = fmt.Sprintf("Sample %d", i+1)
		}
	}
	return samples
}
