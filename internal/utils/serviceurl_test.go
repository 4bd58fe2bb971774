package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestParseServiceURL(t *testing.T) {
	cases := []struct {
		in   string
		want ServiceURL
	}{
		{"10.0.0.5:8080", ServiceURL{Protocol: "http", Host: "10.0.0.5", Port: intPtr(8080), Path: "/", IsIP: true}},
		{"https://git.corp.io/gitlab", ServiceURL{Protocol: "https", Host: "git.corp.io", Path: "/gitlab"}},
		{"HTTP://Wiki.Local:abc/x?y=1#z", ServiceURL{Protocol: "http", Host: "wiki.local", Path: "/x"}},
		{"grafana.local:3000?orgId=1", ServiceURL{Protocol: "http", Host: "grafana.local", Port: intPtr(3000), Path: "/"}},
	}
	for _, tc := range cases {
		got, err := ParseServiceURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseServiceURL_Errors(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://host", "http://:8080/"} {
		_, err := ParseServiceURL(in)
		assert.Error(t, err, in)
	}
}

func TestParseServiceURL_RenderIsInverse(t *testing.T) {
	inputs := []string{
		"10.0.0.5:8080",
		"https://git.corp.io/gitlab/",
		"wiki.local:notaport/docs",
		"http://192.168.1.1",
		"jenkins.internal:8443/ci?x=1",
	}
	for _, in := range inputs {
		first, err := ParseServiceURL(in)
		require.NoError(t, err, in)
		second, err := ParseServiceURL(first.Render())
		require.NoError(t, err, in)
		assert.Equal(t, first, second, in)
	}
}

func TestRenderServiceURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.5:8080/", RenderServiceURL("http", "10.0.0.5", intPtr(8080), ""))
	assert.Equal(t, "https://git.corp.io/gitlab", RenderServiceURL("https", "git.corp.io", nil, "/gitlab"))
}
