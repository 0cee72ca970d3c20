// Package extension builds Chrome extensions that point the browser at one
// authenticated proxy, for browsers that cannot take proxy credentials on
// the command line.
package extension

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/mgruener/proxybatch/pkg/proxylist"
)

const manifestJSON = `{
    "version": "1.0.0",
    "manifest_version": 2,
    "name": "Chrome Proxy",
    "permissions": [
        "proxy",
        "tabs",
        "unlimitedStorage",
        "storage",
        "<all_urls>",
        "webRequest",
        "webRequestBlocking"
    ],
    "background": {
        "scripts": ["background.js"]
    },
    "minimum_chrome_version": "22.0.0"
}
`

var backgroundTpl = template.Must(template.New("background.js").Parse(`var config = {
    mode: "fixed_servers",
    rules: {
        singleProxy: {
            scheme: "http",
            host: {{.Host}},
            port: {{.Port}}
        },
        bypassList: ["localhost"]
    }
};
chrome.proxy.settings.set({value: config, scope: "regular"}, function() {});
function callbackFn(details) {
    return {
        authCredentials: {
            username: {{.Username}},
            password: {{.Password}}
        }
    };
}
chrome.webRequest.onAuthRequired.addListener(
    callbackFn,
    {urls: ["<all_urls>"]},
    ["blocking"]
);
`))

// Build returns the zipped extension for rec.
func Build(rec proxylist.Record) ([]byte, error) {
	background, err := renderBackground(rec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{"manifest.json", []byte(manifestJSON)},
		{"background.js", background},
	} {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileName is the archive name used for rec inside an output directory.
func FileName(rec proxylist.Record) string {
	return fmt.Sprintf("%s_%d.zip", rec.Host, rec.Port)
}

// WriteFile builds the extension for rec into dir and returns its path.
func WriteFile(dir string, rec proxylist.Record) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create extension directory: %w", err)
	}
	data, err := Build(rec)
	if err != nil {
		return "", fmt.Errorf("failed to build extension for %s: %w", rec.Address(), err)
	}
	path := filepath.Join(dir, FileName(rec))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// renderBackground fills the script with JSON-quoted values so credentials
// cannot break out of their string literals.
func renderBackground(rec proxylist.Record) ([]byte, error) {
	quote := func(s string) (string, error) {
		b, err := json.Marshal(s)
		return string(b), err
	}
	host, err := quote(rec.Host)
	if err != nil {
		return nil, err
	}
	username, err := quote(rec.Username)
	if err != nil {
		return nil, err
	}
	password, err := quote(rec.Password)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = backgroundTpl.Execute(&buf, struct {
		Host, Username, Password string
		Port                     int
	}{host, username, password, rec.Port})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
