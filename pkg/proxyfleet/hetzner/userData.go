package hetzner

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/mgruener/proxybatch/pkg/proxyfleet"
)

const fedoraDefaultUserData = `#!/usr/bin/bash
dnf install -y tinyproxy
cat << EOF > /root/tinyproxy.conf
Port {{.Port}}
Listen 0.0.0.0
Timeout 600
Allow {{.Allow}}
BasicAuth {{.Username}} {{.Password}}
MaxClients 20
StartServers 20
EOF
tinyproxy -c /root/tinyproxy.conf`

var (
	imageToUserData = map[string]*template.Template{
		"fedora-40": template.Must(template.New("fedora-40").Parse(fedoraDefaultUserData)),
		"fedora-39": template.Must(template.New("fedora-39").Parse(fedoraDefaultUserData)),
		"fedora-38": template.Must(template.New("fedora-38").Parse(fedoraDefaultUserData)),
	}
)

// renderUserData returns the cloud-init script for image that starts a
// tinyproxy reachable only from allow and guarded by creds.
func renderUserData(image string, allow string, creds proxyfleet.Credentials) (string, error) {
	tpl, ok := imageToUserData[image]
	if !ok {
		return "", fmt.Errorf("no userdata found for image '%s'", image)
	}
	var buf bytes.Buffer
	err := tpl.Execute(&buf, struct {
		proxyfleet.Credentials
		Allow string
	}{creds, allow})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
