package homepage

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
)

// Mapper converts Homepage services to domain.Service entities
type Mapper struct {
	now func() time.Time
}

// NewMapper creates a new mapper instance
func NewMapper() *Mapper {
	return &Mapper{now: func() time.Time { return time.Now().UTC() }}
}

// MapServices converts Homepage ServicesConfig to monitored services.
// The service id is the probed hostname, so re-importing the same file
// updates services in place.
func (m *Mapper) MapServices(config ServicesConfig) ([]*domain.Service, error) {
	var services []*domain.Service
	seen := make(map[string]bool)
	now := m.now()

	// Iterate through groups
	for _, groupMap := range config {
		for groupName, servicesList := range groupMap {
			for _, serviceMap := range servicesList {
				for serviceName, props := range serviceMap {
					target := props.SiteMonitor
					if target == "" {
						target = props.Href
					}

					hostname, ok := probeHost(target)
					if !ok || seen[hostname] {
						continue
					}
					seen[hostname] = true

					spec := domain.ServiceSpec{
						Name:        serviceName,
						URL:         target,
						Type:        serviceType(props),
						Description: props.Description,
						Icon:        props.Icon,
						Group:       groupName,
					}
					if err := spec.Validate(); err != nil {
						continue
					}

					svc := domain.NewService(hostname, spec, now)
					svc.Enabled = !props.Disabled
					services = append(services, svc)
				}
			}
		}
	}

	if len(services) == 0 {
		return nil, fmt.Errorf("no valid services found in homepage config")
	}

	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services, nil
}

// probeHost returns the hostname of an absolute http(s) URL
func probeHost(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	return host, host != ""
}

// serviceType honours an explicit type, otherwise services with a
// Homepage widget are apps and the rest websites
func serviceType(props ServiceProps) domain.ServiceType {
	if t := domain.ServiceType(strings.ToLower(props.Type)); t.IsValid() {
		return t
	}
	if len(props.Widget) > 0 {
		return domain.TypeApp
	}
	return domain.TypeWebsite
}
