// Copyright 2021 The rauc-go Authors
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
package client

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rauc/rauc-go/bundle"
)

func testServer(files map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			content, ok := files[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(content))
		}))
}

func TestDownloadMem(t *testing.T) {
	server := testServer(map[string]string{
		"/manifest.raucm": "[update]\ncompatible=dev\n",
	})
	defer server.Close()

	c := New()
	data, err := c.DownloadMem(server.URL+"/manifest.raucm", ManifestSizeLimit)
	require.NoError(t, err)
	assert.Equal(t, "[update]\ncompatible=dev\n", string(data))

	_, err = c.DownloadMem(server.URL+"/nosuch", ManifestSizeLimit)
	assert.Error(t, err)
}

func TestDownloadMemSizeLimit(t *testing.T) {
	server := testServer(map[string]string{"/big": "0123456789"})
	defer server.Close()

	c := New()
	_, err := c.DownloadMem(server.URL+"/big", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size limit")

	data, err := c.DownloadMem(server.URL+"/big", 10)
	require.NoError(t, err)
	assert.Len(t, data, 10)
}

func TestDownloadFileChecksum(t *testing.T) {
	content := "kernel image data"
	server := testServer(map[string]string{"/vmlinuz": content})
	defer server.Close()

	dir, err := ioutil.TempDir("", "rauc-client")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	dest := filepath.Join(dir, "vmlinuz")
	checksum := bundle.ChecksumFor([]byte(content))

	c := New()
	require.NoError(t,
		c.DownloadFileChecksum(dest, server.URL+"/vmlinuz", &checksum))

	data, err := ioutil.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestDownloadFileChecksumMismatch(t *testing.T) {
	server := testServer(map[string]string{"/vmlinuz": "corrupted"})
	defer server.Close()

	dir, err := ioutil.TempDir("", "rauc-client")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	dest := filepath.Join(dir, "vmlinuz")
	checksum := bundle.ChecksumFor([]byte("expected content"))

	c := New()
	err = c.DownloadFileChecksum(dest, server.URL+"/vmlinuz", &checksum)
	require.Error(t, err)

	// The destination must not exist after a failed verification.
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}
