package clientip

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name: "CF-Connecting-IP wins over every other source",
			headers: map[string]string{
				"CF-Connecting-IP": "203.0.113.195",
				"X-Forwarded-For":  "192.168.1.1",
				"X-Real-IP":        "10.0.0.1",
			},
			remoteAddr: "172.16.0.1:54321",
			expected:   "203.0.113.195",
		},
		{
			name: "first valid X-Forwarded-For entry",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.178, 203.0.113.195",
				"X-Real-IP":       "192.168.1.1",
			},
			remoteAddr: "10.0.0.1:54321",
			expected:   "198.51.100.178",
		},
		{
			name: "garbage X-Forwarded-For entries are skipped",
			headers: map[string]string{
				"X-Forwarded-For": "not-an-ip, , 203.0.113.9",
			},
			remoteAddr: "10.0.0.1:54321",
			expected:   "203.0.113.9",
		},
		{
			name: "X-Real-IP when no forwarded headers",
			headers: map[string]string{
				"X-Real-IP": "198.51.100.23",
			},
			remoteAddr: "10.0.0.1:54321",
			expected:   "198.51.100.23",
		},
		{
			name:       "RemoteAddr fallback strips the port",
			remoteAddr: "192.0.2.44:9000",
			expected:   "192.0.2.44",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.0.2.44",
			expected:   "192.0.2.44",
		},
		{
			name:       "IPv6 RemoteAddr",
			remoteAddr: "[2001:db8::1]:443",
			expected:   "2001:db8::1",
		},
		{
			name: "invalid header values fall through",
			headers: map[string]string{
				"CF-Connecting-IP": "banana",
			},
			remoteAddr: "192.0.2.44:9000",
			expected:   "192.0.2.44",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for key, value := range tt.headers {
				r.Header.Set(key, value)
			}
			assert.Equal(t, tt.expected, FromRequest(r))
		})
	}
}
