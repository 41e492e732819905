package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"HTTP://LocalHost:8080", " https://chat.example.com ", "not a url", ""}, zap.NewNop())

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:8080", true},
		{"https://chat.example.com", true},
		{"https://chat.example.com/some/path", true},
		{"http://chat.example.com", false},
		{"http://evil.com", false},
		{"", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, p.check(r), tt.origin)
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	p := newOriginPolicy([]string{"*"}, zap.NewNop())
	r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	r.Header.Set("Origin", "http://anything.test")
	assert.True(t, p.check(r))
}
