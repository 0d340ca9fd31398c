package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/hash/sha256"
)

func TestObjectPath(t *testing.T) {
	t.Parallel()

	p, err := ObjectPath(sha256.New(), "/pages/", "http://a.example/")
	require.NoError(t, err)
	parts := strings.Split(p, "/")
	require.Len(t, parts, 3)
	require.Equal(t, "pages", parts[0])
	require.Len(t, parts[1], 2)
	require.True(t, strings.HasPrefix(parts[2], parts[1]))
	require.True(t, strings.HasSuffix(parts[2], ".json"))

	again, err := ObjectPath(sha256.New(), "pages", "http://a.example/")
	require.NoError(t, err)
	require.Equal(t, p, again)

	_, err = ObjectPath(sha256.New(), "", " ")
	require.Error(t, err)
}

func TestContentEnvelope(t *testing.T) {
	t.Parallel()

	in := crawler.Content{
		URI:         "http://a.example/",
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte("<p>hi</p>"),
		FetchedAt:   time.Unix(1700000000, 0).UTC(),
	}
	data, err := EncodeContent(in)
	require.NoError(t, err)

	out, err := DecodeContent(data, in.URI)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = DecodeContent(data, "http://b.example/")
	require.Error(t, err)
}
