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

// Package client downloads remote manifests and payload files for network
// installs.
package client

import (
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rauc/rauc-go/bundle"
)

// ManifestSizeLimit bounds in-memory downloads of manifests and signatures.
const ManifestSizeLimit = 64 * 1024

type Client struct {
	http *http.Client
}

func New() *Client {
	return &Client{http: &http.Client{}}
}

func (c *Client) get(url string) (*http.Response, error) {
	resp, err := c.http.Get(url)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed fetching %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("Failed fetching %s: %s", url, resp.Status)
	}
	return resp, nil
}

// DownloadMem fetches a small remote object into memory, failing when it
// exceeds limit bytes.
func (c *Client) DownloadMem(url string, limit int64) ([]byte, error) {
	resp, err := c.get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, errors.Wrapf(err, "Failed reading %s", url)
	}
	if int64(len(data)) > limit {
		return nil, errors.Errorf("%s exceeds size limit of %d bytes",
			url, limit)
	}
	return data, nil
}

// DownloadFileChecksum streams a remote file to dest and verifies it against
// the expected checksum. The file is written next to dest first and renamed
// into place only after verification.
func (c *Client) DownloadFileChecksum(dest, url string,
	checksum *bundle.Checksum) error {

	resp, err := c.get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp, err := ioutil.TempFile(filepath.Dir(dest), ".download-")
	if err != nil {
		return errors.Wrap(err, "Failed creating download file")
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "Failed downloading %s", url)
	}

	if err := checksum.VerifyFile(tmp.Name()); err != nil {
		return errors.Wrapf(err, "Download of %s corrupt", url)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return errors.Wrapf(err, "Failed moving download to %s", dest)
	}

	log.Debugf("Downloaded %s to %s", url, dest)
	return nil
}
