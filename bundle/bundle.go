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

// Package bundle models update bundles: a squashfs image carrying a manifest
// keyfile plus payload images. Cryptographic verification is delegated to a
// Verifier implementation supplied by the platform integration.
package bundle

import (
	"io/ioutil"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// BundleSuffix selects the local bundle install path; anything else is
// treated as a remote manifest URL.
const BundleSuffix = ".raucb"

// Verifier checks bundle authenticity. VerifyManifest checks a detached
// signature over raw manifest data (network installs); VerifyBundle checks a
// mounted bundle's embedded signature.
type Verifier interface {
	VerifyBundle(mountpoint string) error
	VerifyManifest(data, signature []byte) error
}

// NopVerifier accepts everything. Platforms that require authenticated
// updates must supply a real verifier.
type NopVerifier struct{}

func (NopVerifier) VerifyBundle(mountpoint string) error {
	log.Warnf("Signature verification disabled; accepting bundle at %s",
		mountpoint)
	return nil
}

func (NopVerifier) VerifyManifest(data, signature []byte) error {
	log.Warn("Signature verification disabled; accepting manifest")
	return nil
}

// VerifyManifest verifies a mounted bundle and loads its manifest.
func VerifyManifest(mountpoint string, verifier Verifier) (*Manifest, error) {
	if err := verifier.VerifyBundle(mountpoint); err != nil {
		return nil, errors.Wrap(err, "Bundle verification failed")
	}

	path := filepath.Join(mountpoint, ManifestName)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed reading manifest %s", path)
	}

	return LoadManifest(data)
}
