package catalog

// Tool defines an editing tool as loaded from YAML.
type Tool struct {
	ID           string                 `yaml:"id" json:"id"`
	Name         string                 `yaml:"name" json:"name"`
	Description  string                 `yaml:"description" json:"description"`
	Category     string                 `yaml:"category" json:"category"` // ai, filter, transform
	Provider     string                 `yaml:"provider" json:"provider,omitempty"`
	Credits      int                    `yaml:"credits" json:"credits"`
	Local        bool                   `yaml:"local" json:"local"`
	Defaults     map[string]any         `yaml:"defaults" json:"defaults,omitempty"`
	Constraints  []Constraint           `yaml:"constraints" json:"-"`
	Translations map[string]Translation `yaml:"translations" json:"-"`
}

// Constraint is a boolean expr expression over the tool settings.
type Constraint struct {
	Expr    string `yaml:"expr"`
	Message string `yaml:"message"`
}

type Translation struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Localized returns a copy of t with the translation for lang applied.
func (t *Tool) Localized(lang string) *Tool {
	val := *t
	localized := &val
	if trans, ok := t.Translations[lang]; ok {
		if trans.Name != "" {
			localized.Name = trans.Name
		}
		if trans.Description != "" {
			localized.Description = trans.Description
		}
	}
	return localized
}
