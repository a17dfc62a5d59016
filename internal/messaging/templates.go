package messaging

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	TemplateServed   = "served"
	TemplatePasscode = "passcode"
)

// Templates maps a template name to a body with {placeholder} variables.
type Templates map[string]string

func DefaultTemplates() Templates {
	return Templates{
		TemplateServed:   "{guest_name}, it is your turn in {queue_name}. Please proceed.",
		TemplatePasscode: "Your Q-Me verification code is {code}.",
	}
}

// LoadTemplates reads a YAML mapping of template names to bodies and layers
// it over the defaults. An empty path yields the defaults.
func LoadTemplates(path string) (Templates, error) {
	templates := DefaultTemplates()
	if path == "" {
		return templates, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	overrides := map[string]string{}
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	for name, body := range overrides {
		if strings.TrimSpace(body) == "" {
			continue
		}
		templates[name] = body
	}
	return templates, nil
}

func (t Templates) Render(name string, vars map[string]string) string {
	body, ok := t[name]
	if !ok {
		body = DefaultTemplates()[name]
	}
	return renderTemplate(body, vars)
}

func renderTemplate(template string, vars map[string]string) string {
	result := template
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	if strings.Contains(result, "{") {
		log.Debug().Str("template", template).Msg("template left unresolved variables")
	}
	return result
}
