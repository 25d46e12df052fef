package template

import (
	"strings"
	"testing"
)

func validTemplate() *Template {
	return &Template{
		Name:     "order_update",
		Language: "en_US",
		Category: "UTILITY",
		Components: []Component{
			{Type: ComponentBody, Text: "Hi {{1}}, your order {{2}} has shipped."},
		},
	}
}

func TestValidateOK(t *testing.T) {
	tmpl := validTemplate()
	if vs := tmpl.Validate(); len(vs) != 0 {
		t.Fatalf("Validate() = %v, want no violations", vs)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"order_update", true},
		{"promo2024", true},
		{"Order_Update", false},
		{"order update", false},
		{"order-update", false},
		{"", false},
	}

	for _, tt := range tests {
		tmpl := validTemplate()
		tmpl.Name = tt.name
		vs := tmpl.Validate()
		if tt.valid && len(vs) != 0 {
			t.Errorf("name %q: Validate() = %v, want no violations", tt.name, vs)
		}
		if !tt.valid && len(vs) == 0 {
			t.Errorf("name %q: Validate() passed, want violation", tt.name)
		}
	}
}

func TestValidateBodyRules(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"missing body", "", "body"},
		{"too long", strings.Repeat("x", 1025), "body"},
		{"gap in variables", "Hi {{1}}, code {{3}}", "body"},
		{"starts at two", "Hi {{2}}", "body"},
		{"out of order", "Hi {{2}} and {{1}}", "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := validTemplate()
			tmpl.Components[0].Text = tt.body
			vs := tmpl.Validate()
			if !hasViolation(vs, tt.wantField) {
				t.Errorf("Validate() = %v, want violation on %q", vs, tt.wantField)
			}
		})
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  Component
		wantErr bool
	}{
		{"text ok", Component{Type: ComponentHeader, Format: FormatText, Text: "Order update"}, false},
		{"text too long", Component{Type: ComponentHeader, Format: FormatText, Text: strings.Repeat("h", 61)}, true},
		{"image with ref", Component{Type: ComponentHeader, Format: FormatImage, MediaRef: "4::aW1n"}, false},
		{"image missing ref", Component{Type: ComponentHeader, Format: FormatImage}, true},
		{"video missing ref", Component{Type: ComponentHeader, Format: FormatVideo}, true},
		{"bad format", Component{Type: ComponentHeader, Format: "AUDIO"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := validTemplate()
			tmpl.Components = append([]Component{tt.header}, tmpl.Components...)
			vs := tmpl.Validate()
			if tt.wantErr && !hasViolation(vs, "header") {
				t.Errorf("Validate() = %v, want header violation", vs)
			}
			if !tt.wantErr && len(vs) != 0 {
				t.Errorf("Validate() = %v, want no violations", vs)
			}
		})
	}
}

// A footer one character over the limit must produce exactly the footer
// violation and nothing about variables.
func TestValidateFooterLengthOnly(t *testing.T) {
	tmpl := &Template{
		Name:     "code_notify",
		Language: "en_US",
		Category: "UTILITY",
		Components: []Component{
			{Type: ComponentBody, Text: "Hi {{1}}, your code is {{2}}"},
			{Type: ComponentFooter, Text: strings.Repeat("f", 61)},
		},
	}

	vs := tmpl.Validate()
	if len(vs) != 1 {
		t.Fatalf("Validate() = %v, want exactly one violation", vs)
	}
	if vs[0].Field != "footer" {
		t.Errorf("violation field = %q, want footer", vs[0].Field)
	}
}

// Length limits count characters, not bytes. Multibyte text at each limit
// must pass, one character over must fail.
func TestValidateLengthsCountCharacters(t *testing.T) {
	tests := []struct {
		name    string
		comp    Component
		wantErr bool
	}{
		{"body at limit", Component{Type: ComponentBody, Text: strings.Repeat("ü", 1024)}, false},
		{"body over limit", Component{Type: ComponentBody, Text: strings.Repeat("ü", 1025)}, true},
		{"header at limit", Component{Type: ComponentHeader, Format: FormatText, Text: strings.Repeat("á", 60)}, false},
		{"header over limit", Component{Type: ComponentHeader, Format: FormatText, Text: strings.Repeat("á", 61)}, true},
		{"footer at limit", Component{Type: ComponentFooter, Text: strings.Repeat("é", 60)}, false},
		{"footer over limit", Component{Type: ComponentFooter, Text: strings.Repeat("é", 61)}, true},
		{"button at limit", Component{Type: ComponentButtons, Buttons: []Button{{Type: ButtonQuickReply, Text: strings.Repeat("ñ", 20)}}}, false},
		{"button over limit", Component{Type: ComponentButtons, Buttons: []Button{{Type: ButtonQuickReply, Text: strings.Repeat("ñ", 21)}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := validTemplate()
			if tt.comp.Type == ComponentBody {
				tmpl.Components[0] = tt.comp
			} else {
				tmpl.Components = append(tmpl.Components, tt.comp)
			}
			vs := tmpl.Validate()
			if tt.wantErr && len(vs) == 0 {
				t.Error("Validate() passed, want length violation")
			}
			if !tt.wantErr && len(vs) != 0 {
				t.Errorf("Validate() = %v, want no violations", vs)
			}
		})
	}
}

func TestValidateButtons(t *testing.T) {
	tests := []struct {
		name    string
		buttons []Button
		wantErr bool
	}{
		{"quick reply ok", []Button{{Type: ButtonQuickReply, Text: "Yes"}}, false},
		{"url ok", []Button{{Type: ButtonURL, Text: "Shop", URL: "https://example.com"}}, false},
		{"url http ok", []Button{{Type: ButtonURL, Text: "Shop", URL: "http://example.com"}}, false},
		{"url missing scheme", []Button{{Type: ButtonURL, Text: "Shop", URL: "example.com"}}, true},
		{"phone ok", []Button{{Type: ButtonPhoneNumber, Text: "Call", PhoneNumber: "+14155550123"}}, false},
		{"phone not e164", []Button{{Type: ButtonPhoneNumber, Text: "Call", PhoneNumber: "415-555-0123"}}, true},
		{"text too long", []Button{{Type: ButtonQuickReply, Text: strings.Repeat("b", 21)}}, true},
		{"too many", []Button{
			{Type: ButtonQuickReply, Text: "A"},
			{Type: ButtonQuickReply, Text: "B"},
			{Type: ButtonQuickReply, Text: "C"},
			{Type: ButtonQuickReply, Text: "D"},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := validTemplate()
			tmpl.Components = append(tmpl.Components, Component{Type: ComponentButtons, Buttons: tt.buttons})
			vs := tmpl.Validate()
			if tt.wantErr && len(vs) == 0 {
				t.Error("Validate() passed, want button violation")
			}
			if !tt.wantErr && len(vs) != 0 {
				t.Errorf("Validate() = %v, want no violations", vs)
			}
		})
	}
}

func TestExtractVariables(t *testing.T) {
	tests := []struct {
		text string
		want []int
	}{
		{"no variables", nil},
		{"Hi {{1}}", []int{1}},
		{"Hi {{1}}, code {{2}}", []int{1, 2}},
		{"{{1}} again {{1}} then {{2}}", []int{1, 2}},
		{"{{1}} and {{3}}", []int{1, 3}},
		{"{{2}} before {{1}}", []int{2, 1}},
	}

	for _, tt := range tests {
		got := ExtractVariables(tt.text)
		if len(got) != len(tt.want) {
			t.Errorf("ExtractVariables(%q) = %v, want %v", tt.text, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ExtractVariables(%q) = %v, want %v", tt.text, got, tt.want)
				break
			}
		}
	}
}

func TestRenderBody(t *testing.T) {
	tests := []struct {
		text   string
		values []string
		want   string
	}{
		{"Hi {{1}}", []string{"Ana"}, "Hi Ana"},
		{"Hi {{1}}, code {{2}}", []string{"Ana", "4921"}, "Hi Ana, code 4921"},
		{"Hi {{1}}, code {{2}}", []string{"Ana"}, "Hi Ana, code "},
		{"{{1}} {{1}}", []string{"x"}, "x x"},
		{"no vars", nil, "no vars"},
	}

	for _, tt := range tests {
		if got := RenderBody(tt.text, tt.values); got != tt.want {
			t.Errorf("RenderBody(%q, %v) = %q, want %q", tt.text, tt.values, got, tt.want)
		}
	}
}

func hasViolation(vs []Violation, field string) bool {
	for _, v := range vs {
		if v.Field == field {
			return true
		}
	}
	return false
}
