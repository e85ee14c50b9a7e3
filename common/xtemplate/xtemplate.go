// Package xtemplate centralizes the template dialect used for artifact
// generation: every template fails closed on undefined references and
// shares one function set, so a body that syntax-checks at catalog load
// renders under exactly the same rules.
package xtemplate

import (
	"strings"
	"text/template"
)

// Funcs is the function set available inside artifact templates.
var Funcs = template.FuncMap{
	"join":     strings.Join,
	"contains": strings.Contains,
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
}

// New returns a template that treats undefined map references as
// errors instead of rendering them empty.
func New(name string) *template.Template {
	return template.New(name).Option("missingkey=error").Funcs(Funcs)
}

// Parse syntax-checks a template body without executing it.
func Parse(name, body string) (*template.Template, error) {
	return New(name).Parse(body)
}
