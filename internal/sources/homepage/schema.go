package homepage

// ServicesConfig represents the top-level structure of services.yaml
// Homepage uses dynamic keys, so we parse as []map[string][]map[string]ServiceProps
type ServicesConfig []map[string][]map[string]ServiceProps

// ServiceProps contains the service properties komandorr reads
type ServiceProps struct {
	Href        string                 `yaml:"href"`
	Icon        string                 `yaml:"icon,omitempty"`
	Description string                 `yaml:"description,omitempty"`
	SiteMonitor string                 `yaml:"siteMonitor,omitempty"`
	Widget      map[string]interface{} `yaml:"widget,omitempty"`

	// Komandorr extensions, ignored by Homepage
	Type     string `yaml:"komandorrType,omitempty"`
	Disabled bool   `yaml:"komandorrDisabled,omitempty"`
}
