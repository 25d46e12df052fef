package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ostrix/blastd/internal/phone"
)

const (
	maxBodyLen   = 1024
	maxHeaderLen = 60
	maxFooterLen = 60
	maxButtonLen = 20
	maxButtons   = 3
)

var (
	namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	varPattern  = regexp.MustCompile(`\{\{(\d+)\}\}`)
	urlPattern  = regexp.MustCompile(`^https?://`)
)

// Violation is one structural rule the template breaks. Validation collects
// violations instead of failing on the first one.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ExtractVariables returns the {{n}} placeholder indices present in text, in
// order of first occurrence, deduplicated.
func ExtractVariables(text string) []int {
	seen := map[int]bool{}
	var indices []int
	for _, m := range varPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		indices = append(indices, n)
	}
	return indices
}

// contiguous reports whether indices form exactly 1..len(indices) in order.
func contiguous(indices []int) bool {
	for i, n := range indices {
		if n != i+1 {
			return false
		}
	}
	return true
}

// Validate checks the structural rules of the template draft and returns the
// list of violations. An empty result means the template is valid. It never
// returns an error: all problems are reported as violations.
func (t *Template) Validate() []Violation {
	var vs []Violation

	if t.Name == "" {
		vs = append(vs, Violation{"name", "name is required"})
	} else if !namePattern.MatchString(t.Name) {
		vs = append(vs, Violation{"name", "name must be lowercase letters, digits and underscores"})
	}
	if t.Language == "" {
		vs = append(vs, Violation{"language", "language code is required"})
	}

	var headers, bodies, footers, buttonComps int
	for i := range t.Components {
		c := &t.Components[i]
		switch c.Type {
		case ComponentHeader:
			headers++
			vs = append(vs, c.validateHeader()...)
		case ComponentBody:
			bodies++
			vs = append(vs, c.validateBody()...)
		case ComponentFooter:
			footers++
			if c.Text == "" {
				vs = append(vs, Violation{"footer", "footer text is required"})
			} else if utf8.RuneCountInString(c.Text) > maxFooterLen {
				vs = append(vs, Violation{"footer", fmt.Sprintf("footer text exceeds %d characters", maxFooterLen)})
			}
		case ComponentButtons:
			buttonComps++
			vs = append(vs, c.validateButtons()...)
		default:
			vs = append(vs, Violation{"components", fmt.Sprintf("unknown component type: %s", c.Type)})
		}
	}

	if bodies == 0 {
		vs = append(vs, Violation{"body", "BODY component is required"})
	}
	if bodies > 1 {
		vs = append(vs, Violation{"body", "only one BODY component is allowed"})
	}
	if headers > 1 {
		vs = append(vs, Violation{"header", "only one HEADER component is allowed"})
	}
	if footers > 1 {
		vs = append(vs, Violation{"footer", "only one FOOTER component is allowed"})
	}
	if buttonComps > 1 {
		vs = append(vs, Violation{"buttons", "only one BUTTONS component is allowed"})
	}

	return vs
}

func (c *Component) validateBody() []Violation {
	var vs []Violation
	if c.Text == "" {
		vs = append(vs, Violation{"body", "body text is required"})
		return vs
	}
	if utf8.RuneCountInString(c.Text) > maxBodyLen {
		vs = append(vs, Violation{"body", fmt.Sprintf("body text exceeds %d characters", maxBodyLen)})
	}
	if indices := ExtractVariables(c.Text); !contiguous(indices) {
		vs = append(vs, Violation{"body", "variable placeholders must be contiguous starting at {{1}}"})
	}
	return vs
}

func (c *Component) validateHeader() []Violation {
	var vs []Violation
	switch c.Format {
	case FormatText, "":
		if c.Text == "" {
			vs = append(vs, Violation{"header", "header text is required for TEXT format"})
			return vs
		}
		if utf8.RuneCountInString(c.Text) > maxHeaderLen {
			vs = append(vs, Violation{"header", fmt.Sprintf("header text exceeds %d characters", maxHeaderLen)})
		}
		if indices := ExtractVariables(c.Text); !contiguous(indices) {
			vs = append(vs, Violation{"header", "variable placeholders must be contiguous starting at {{1}}"})
		}
	case FormatImage, FormatDocument, FormatVideo:
		if c.MediaRef == "" {
			vs = append(vs, Violation{"header", fmt.Sprintf("media reference is required for %s format", c.Format)})
		}
	default:
		vs = append(vs, Violation{"header", fmt.Sprintf("unknown header format: %s", c.Format)})
	}
	return vs
}

func (c *Component) validateButtons() []Violation {
	var vs []Violation
	if len(c.Buttons) == 0 {
		vs = append(vs, Violation{"buttons", "BUTTONS component requires at least one button"})
	}
	if len(c.Buttons) > maxButtons {
		vs = append(vs, Violation{"buttons", fmt.Sprintf("at most %d buttons are allowed", maxButtons)})
	}
	for i, b := range c.Buttons {
		field := fmt.Sprintf("buttons[%d]", i)
		if b.Text == "" {
			vs = append(vs, Violation{field, "button text is required"})
		} else if utf8.RuneCountInString(b.Text) > maxButtonLen {
			vs = append(vs, Violation{field, fmt.Sprintf("button text exceeds %d characters", maxButtonLen)})
		}
		switch b.Type {
		case ButtonQuickReply:
		case ButtonURL:
			if !urlPattern.MatchString(b.URL) {
				vs = append(vs, Violation{field, "URL button requires an http(s) URL"})
			}
		case ButtonPhoneNumber:
			if !phone.ValidE164(b.PhoneNumber) {
				vs = append(vs, Violation{field, "phone number button requires E.164 format"})
			}
		default:
			vs = append(vs, Violation{field, fmt.Sprintf("unknown button type: %s", b.Type)})
		}
	}
	return vs
}

// RenderBody substitutes {{n}} placeholders with values[n-1], falling back to
// an empty string for unmapped indices.
func RenderBody(text string, values []string) string {
	return varPattern.ReplaceAllStringFunc(text, func(match string) string {
		n, err := strconv.Atoi(strings.Trim(match, "{}"))
		if err != nil || n < 1 || n > len(values) {
			return ""
		}
		return values[n-1]
	})
}
