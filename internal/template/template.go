// Package template validates structured message template definitions and
// compiles them into provider-agnostic wire payloads.
package template

import "encoding/json"

// ApprovalStatus is the provider-side review state of a template
type ApprovalStatus string

const (
	StatusApproved ApprovalStatus = "APPROVED"
	StatusPending  ApprovalStatus = "PENDING"
	StatusRejected ApprovalStatus = "REJECTED"
)

// ComponentType identifies a template component
type ComponentType string

const (
	ComponentHeader  ComponentType = "HEADER"
	ComponentBody    ComponentType = "BODY"
	ComponentFooter  ComponentType = "FOOTER"
	ComponentButtons ComponentType = "BUTTONS"
)

// HeaderFormat is the media format of a HEADER component
type HeaderFormat string

const (
	FormatText     HeaderFormat = "TEXT"
	FormatImage    HeaderFormat = "IMAGE"
	FormatDocument HeaderFormat = "DOCUMENT"
	FormatVideo    HeaderFormat = "VIDEO"
)

// ButtonType identifies a button action
type ButtonType string

const (
	ButtonQuickReply  ButtonType = "QUICK_REPLY"
	ButtonURL         ButtonType = "URL"
	ButtonPhoneNumber ButtonType = "PHONE_NUMBER"
)

// Template is a message template draft. Variable placeholders in BODY and
// TEXT-format HEADER text are written {{n}}, 1-indexed and contiguous.
type Template struct {
	Name       string         `json:"name"`     // lowercase [a-z0-9_]+
	Language   string         `json:"language"` // e.g. en_US
	Category   string         `json:"category"` // MARKETING, UTILITY, AUTHENTICATION
	Namespace  string         `json:"namespace,omitempty"`
	Components []Component    `json:"components"`
	Samples    []string       `json:"samples,omitempty"` // example values for BODY variables
	Status     ApprovalStatus `json:"status,omitempty"`
}

// Component is one structural part of a template
type Component struct {
	Type     ComponentType `json:"type"`
	Format   HeaderFormat  `json:"format,omitempty"`    // HEADER only
	Text     string        `json:"text,omitempty"`      // HEADER(TEXT), BODY, FOOTER
	MediaRef string        `json:"media_ref,omitempty"` // HEADER media handle
	Buttons  []Button      `json:"buttons,omitempty"`   // BUTTONS only
}

// Button is one call-to-action inside a BUTTONS component
type Button struct {
	Type        ButtonType `json:"type"`
	Text        string     `json:"text"`
	URL         string     `json:"url,omitempty"`
	PhoneNumber string     `json:"phone_number,omitempty"`
}

// Body returns the BODY component, or nil if absent.
func (t *Template) Body() *Component {
	return t.component(ComponentBody)
}

// Header returns the HEADER component, or nil if absent.
func (t *Template) Header() *Component {
	return t.component(ComponentHeader)
}

func (t *Template) component(typ ComponentType) *Component {
	for i := range t.Components {
		if t.Components[i].Type == typ {
			return &t.Components[i]
		}
	}
	return nil
}

// Parse decodes a stored template snapshot.
func Parse(data string) (*Template, error) {
	t := &Template{}
	if err := json.Unmarshal([]byte(data), t); err != nil {
		return nil, err
	}
	return t, nil
}

// Encode serializes the template for storage on a campaign.
func (t *Template) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
