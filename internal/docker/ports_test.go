package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTCPHostPorts verifies which container bindings count as occupied
// host ports.
func TestTCPHostPorts(t *testing.T) {
	tests := []struct {
		name     string
		bindings []publishedPort
		want     map[int]bool
	}{
		{
			name:     "no containers",
			bindings: nil,
			want:     map[int]bool{},
		},
		{
			name: "published tcp port",
			bindings: []publishedPort{
				{public: 38001, protocol: "tcp"},
			},
			want: map[int]bool{38001: true},
		},
		{
			name: "exposed but not published",
			bindings: []publishedPort{
				{public: 0, protocol: "tcp"},
			},
			want: map[int]bool{},
		},
		{
			name: "udp is ignored",
			bindings: []publishedPort{
				{public: 38002, protocol: "udp"},
				{public: 38003, protocol: "tcp"},
			},
			want: map[int]bool{38003: true},
		},
		{
			name: "ipv4 and ipv6 bindings of one port collapse",
			bindings: []publishedPort{
				{public: 38004, protocol: "tcp"},
				{public: 38004, protocol: "tcp"},
			},
			want: map[int]bool{38004: true},
		},
		{
			name: "empty protocol defaults to tcp",
			bindings: []publishedPort{
				{public: 38005},
			},
			want: map[int]bool{38005: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tcpHostPorts(tt.bindings))
		})
	}
}

// TestResolveHost verifies the daemon address precedence.
func TestResolveHost(t *testing.T) {
	userSocket := "/home/dev/.docker/run/docker.sock"
	only := func(paths ...string) func(string) bool {
		return func(p string) bool {
			for _, want := range paths {
				if p == want {
					return true
				}
			}
			return false
		}
	}

	tests := []struct {
		name    string
		env     string
		goos    string
		exists  func(string) bool
		want    string
		wantErr bool
	}{
		{"DOCKER_HOST wins", "tcp://10.0.0.5:2375", "linux", only(), "tcp://10.0.0.5:2375", false},
		{"linux default socket", "", "linux", only("/var/run/docker.sock"), "unix:///var/run/docker.sock", false},
		{"linux without socket", "", "linux", only(), "", true},
		{"darwin prefers system socket", "", "darwin", only("/var/run/docker.sock", userSocket), "unix:///var/run/docker.sock", false},
		{"darwin falls back to user socket", "", "darwin", only(userSocket), "unix://" + userSocket, false},
		{"windows pipe", "", "windows", only(), windowsPipe, false},
		{"unsupported platform", "", "plan9", only(), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveHost(tt.env, tt.goos, "/home/dev", tt.exists)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
