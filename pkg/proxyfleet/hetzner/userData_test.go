package hetzner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgruener/proxybatch/pkg/proxyfleet"
)

func TestRenderUserData(t *testing.T) {
	creds := proxyfleet.Credentials{Username: "fleet", Password: "s3cret", Port: 3128}

	script, err := renderUserData("fedora-39", "198.51.100.4", creds)
	require.NoError(t, err)
	assert.Contains(t, script, "Port 3128\n")
	assert.Contains(t, script, "Allow 198.51.100.4\n")
	assert.Contains(t, script, "BasicAuth fleet s3cret\n")
	assert.Contains(t, script, "tinyproxy -c /root/tinyproxy.conf")
}

func TestRenderUserData_UnknownImage(t *testing.T) {
	_, err := renderUserData("ubuntu-24.04", "198.51.100.4", proxyfleet.Credentials{Port: 8080})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ubuntu-24.04")
}
