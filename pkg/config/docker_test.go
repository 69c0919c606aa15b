package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveHostForDocker_NonLocalHostsUnchanged(t *testing.T) {
	for _, host := range []string{"erp-db.example.com", "192.168.1.100", "host.docker.internal"} {
		assert.Equal(t, host, ResolveHostForDocker(host))
	}
}

func TestResolveHostForDocker_LocalhostVariants(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1"} {
		if IsRunningInDocker() {
			assert.Equal(t, "host.docker.internal", ResolveHostForDocker(host))
		} else {
			assert.Equal(t, host, ResolveHostForDocker(host))
		}
	}
}

func TestRewriteURLHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:11434/v1", "http://host.docker.internal:11434/v1"},
		{"http://127.0.0.1/v1", "http://host.docker.internal/v1"},
		{"https://vllm.internal:8000/v1", "https://vllm.internal:8000/v1"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, rewriteURLHost(tt.in, dockerHost))
		})
	}
}
