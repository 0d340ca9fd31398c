package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases scheme and host", in: "HTTP://Example.COM/Path", want: "http://example.com/Path"},
		{name: "drops default http port", in: "http://example.com:80/a", want: "http://example.com/a"},
		{name: "drops default https port", in: "https://example.com:443/a", want: "https://example.com/a"},
		{name: "keeps other ports", in: "http://example.com:8080/a", want: "http://example.com:8080/a"},
		{name: "sorts query", in: "http://example.com/?b=2&a=1", want: "http://example.com/?a=1&b=2"},
		{name: "drops fragment", in: "http://example.com/a#top", want: "http://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/relative")
	require.ErrorContains(t, err, "not absolute")

	_, err = NormalizeURL("http://[::1")
	require.ErrorContains(t, err, "parse url")
}
