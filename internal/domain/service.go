package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ServiceType is the declared kind of a monitored service.
type ServiceType string

const (
	TypeApp     ServiceType = "app"
	TypeWebsite ServiceType = "website"
	TypePanel   ServiceType = "panel"
	TypeProject ServiceType = "project"
	TypeServer  ServiceType = "server"
)

// IsValid reports whether t is one of the declared service types.
func (t ServiceType) IsValid() bool {
	switch t {
	case TypeApp, TypeWebsite, TypePanel, TypeProject, TypeServer:
		return true
	}
	return false
}

// Service is a monitored target owned by the registry.
//
// Everything else in the engine references a Service by ID. Status,
// LastCheck and ResponseTime are written only by the prober.
type Service struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	ID   string      `json:"id"`
	Name string      `json:"name"`
	URL  string      `json:"url"`
	Type ServiceType `json:"type"`

	// Enabled services are probed and accept pushed metrics.
	Enabled bool `json:"enabled"`

	// ─────────────────────────────
	// Liveness (prober owned)
	// ─────────────────────────────

	Status    Status     `json:"status"`
	LastCheck *time.Time `json:"last_check"`

	// ResponseTime is the last measured round trip in milliseconds.
	// Nil until a check succeeds, cleared again when the target is unreachable.
	ResponseTime *float64 `json:"response_time"`

	// ─────────────────────────────
	// Presentation
	// ─────────────────────────────

	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Group       string `json:"group,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so readers never share pointers with the registry.
func (s *Service) Clone() *Service {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastCheck != nil {
		t := *s.LastCheck
		c.LastCheck = &t
	}
	if s.ResponseTime != nil {
		rt := *s.ResponseTime
		c.ResponseTime = &rt
	}
	return &c
}

// Target is the slice of a Service the prober needs for one check.
type Target struct {
	ID   string      `json:"id"`
	URL  string      `json:"url"`
	Type ServiceType `json:"type"`
}

// Target returns the probe target for s.
func (s *Service) Target() Target {
	return Target{ID: s.ID, URL: s.URL, Type: s.Type}
}

// Hostname returns the host part of the service URL, or "" if it does not parse.
func (s *Service) Hostname() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// ServiceSpec holds the caller-supplied fields for a new service.
type ServiceSpec struct {
	Name        string      `json:"name"`
	URL         string      `json:"url"`
	Type        ServiceType `json:"type"`
	Description string      `json:"description,omitempty"`
	Icon        string      `json:"icon,omitempty"`
	Group       string      `json:"group,omitempty"`
	Enabled     *bool       `json:"enabled,omitempty"`
}

// Validate checks the spec before the registry assigns an ID.
func (s ServiceSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidService)
	}
	if err := validateTargetURL(s.URL); err != nil {
		return err
	}
	if !s.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidService, s.Type)
	}
	return nil
}

// NewService builds a never-checked service from spec.
func NewService(id string, spec ServiceSpec, now time.Time) *Service {
	enabled := true
	if spec.Enabled != nil {
		enabled = *spec.Enabled
	}
	return &Service{
		ID:          id,
		Name:        strings.TrimSpace(spec.Name),
		URL:         strings.TrimSpace(spec.URL),
		Type:        spec.Type,
		Enabled:     enabled,
		Status:      StatusOffline,
		Description: spec.Description,
		Icon:        spec.Icon,
		Group:       spec.Group,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ServicePatch is a partial update; nil fields are left untouched.
type ServicePatch struct {
	Name        *string      `json:"name,omitempty"`
	URL         *string      `json:"url,omitempty"`
	Type        *ServiceType `json:"type,omitempty"`
	Description *string      `json:"description,omitempty"`
	Icon        *string      `json:"icon,omitempty"`
	Group       *string      `json:"group,omitempty"`
	Enabled     *bool        `json:"enabled,omitempty"`
}

// Apply validates p and writes it onto s.
func (s *Service) Apply(p ServicePatch, now time.Time) error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidService)
	}
	if p.URL != nil {
		if err := validateTargetURL(*p.URL); err != nil {
			return err
		}
	}
	if p.Type != nil && !p.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidService, *p.Type)
	}

	if p.Name != nil {
		s.Name = strings.TrimSpace(*p.Name)
	}
	if p.URL != nil && strings.TrimSpace(*p.URL) != s.URL {
		// A new target invalidates the last observation.
		s.URL = strings.TrimSpace(*p.URL)
		s.Status = StatusOffline
		s.LastCheck = nil
		s.ResponseTime = nil
	}
	if p.Type != nil {
		s.Type = *p.Type
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Icon != nil {
		s.Icon = *p.Icon
	}
	if p.Group != nil {
		s.Group = *p.Group
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	s.UpdatedAt = now
	return nil
}

func validateTargetURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidService, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url must be http or https", ErrInvalidService)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidService)
	}
	return nil
}
