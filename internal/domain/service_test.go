package domain

import (
	"errors"
	"testing"
	"time"
)

func TestServiceSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ServiceSpec
		wantErr bool
	}{
		{name: "valid", spec: ServiceSpec{Name: "Plex", URL: "https://plex.domain.ext", Type: TypeApp}},
		{name: "server type", spec: ServiceSpec{Name: "nas", URL: "http://10.0.0.2:8080", Type: TypeServer}},
		{name: "missing name", spec: ServiceSpec{URL: "https://x.ext", Type: TypeApp}, wantErr: true},
		{name: "bad scheme", spec: ServiceSpec{Name: "x", URL: "ftp://x.ext", Type: TypeApp}, wantErr: true},
		{name: "no host", spec: ServiceSpec{Name: "x", URL: "https://", Type: TypeApp}, wantErr: true},
		{name: "unknown type", spec: ServiceSpec{Name: "x", URL: "https://x.ext", Type: "cron"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidService) {
				t.Errorf("Validate() error should wrap ErrInvalidService, got %v", err)
			}
		})
	}
}

func TestNewServiceStartsOffline(t *testing.T) {
	now := time.Now()
	svc := NewService("id-1", ServiceSpec{Name: " Sonarr ", URL: "https://sonarr.domain.ext", Type: TypeApp}, now)

	if svc.Status != StatusOffline {
		t.Errorf("Status = %v, want offline", svc.Status)
	}
	if svc.ResponseTime != nil || svc.LastCheck != nil {
		t.Error("new service should have no response time and no last check")
	}
	if !svc.Enabled {
		t.Error("new service should be enabled by default")
	}
	if svc.Name != "Sonarr" {
		t.Errorf("Name = %q, want trimmed", svc.Name)
	}
}

func TestServiceApplyURLResetsObservation(t *testing.T) {
	now := time.Now()
	rt := 12.5
	svc := &Service{ID: "a", Name: "a", URL: "https://a.ext", Type: TypeApp, Status: StatusOnline, ResponseTime: &rt, LastCheck: &now}

	newURL := "https://b.ext"
	if err := svc.Apply(ServicePatch{URL: &newURL}, now); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if svc.Status != StatusOffline || svc.ResponseTime != nil || svc.LastCheck != nil {
		t.Errorf("changing the URL should reset the observation, got %+v", svc)
	}

	bad := ServiceType("nope")
	if err := svc.Apply(ServicePatch{Type: &bad}, now); err == nil {
		t.Error("Apply() should reject an unknown type")
	}
	if svc.Type != TypeApp {
		t.Error("a rejected patch must not be partially applied")
	}
}

func TestServiceClone(t *testing.T) {
	rt := 5.0
	orig := &Service{ID: "a", ResponseTime: &rt}
	c := orig.Clone()
	*c.ResponseTime = 99
	if *orig.ResponseTime != 5 {
		t.Error("Clone() must not share the response time pointer")
	}
}

func TestSearchServices(t *testing.T) {
	services := []*Service{
		{ID: "1", Name: "Jellyfin", URL: "https://jellyfin.domain.ext", Group: "Media"},
		{ID: "2", Name: "Jellyseerr", URL: "https://requests.domain.ext", Group: "Media"},
		{ID: "3", Name: "AdGuard Home", URL: "https://adguard.domain.ext", Group: "Infrastructure"},
		{ID: "4", Name: "Traefik", URL: "https://proxy.domain.ext", Group: "Infrastructure"},
	}

	tests := []struct {
		name      string
		query     string
		wantFirst string
		wantLen   int
	}{
		{name: "exact name wins", query: "jellyfin", wantFirst: "1", wantLen: 2},
		{name: "prefix", query: "adg", wantFirst: "3", wantLen: 1},
		{name: "host label", query: "proxy", wantFirst: "4", wantLen: 1},
		{name: "group", query: "infrastructure", wantLen: 2},
		{name: "all fragments must match", query: "jelly infra", wantLen: 0},
		{name: "empty query", query: "   ", wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SearchServices(tt.query, services)
			if len(got) != tt.wantLen {
				t.Fatalf("SearchServices(%q) returned %d matches, want %d", tt.query, len(got), tt.wantLen)
			}
			if tt.wantFirst != "" && got[0].Service.ID != tt.wantFirst {
				t.Errorf("first match = %s, want %s", got[0].Service.ID, tt.wantFirst)
			}
		})
	}
}
