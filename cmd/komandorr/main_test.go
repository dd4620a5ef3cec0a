package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cyb3rgh05t/komandorr/internal/version"
)

func TestVersionShort(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(out.String()) != version.Version {
		t.Errorf("version --short = %q", out.String())
	}
}

func TestAgentRequiresServer(t *testing.T) {
	t.Setenv("KOMANDORR_AGENT_SERVER_URL", "")
	t.Setenv("KOMANDORR_AGENT_SERVICE_ID", "")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"agent", "traffic", "--once"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "server url is required") {
		t.Errorf("Execute() error = %v", err)
	}
}

func TestAgentRejectsRelativeServer(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"agent", "storage", "--once", "--server", "komandorr:8080", "--service-id", "nas"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "absolute http(s) url") {
		t.Errorf("Execute() error = %v", err)
	}
}
