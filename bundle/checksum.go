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
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

const ChecksumSHA256 = "sha256"

// Checksum pairs a digest type with its hex digest.
type Checksum struct {
	Type   string
	Digest string
}

// VerifyFile computes the file's digest and compares it against the expected
// one.
func (c *Checksum) VerifyFile(path string) error {
	if c.Digest == "" {
		return errors.New("No digest to verify against")
	}
	if c.Type != "" && c.Type != ChecksumSHA256 {
		return errors.Errorf("Unsupported checksum type '%s'", c.Type)
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "Failed opening %s", path)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return errors.Wrapf(err, "Failed hashing %s", path)
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != c.Digest {
		return errors.Errorf("Checksum mismatch for %s: have %s, want %s",
			path, digest, c.Digest)
	}
	return nil
}

// ChecksumFor computes the sha256 checksum of data.
func ChecksumFor(data []byte) Checksum {
	digest := sha256.Sum256(data)
	return Checksum{
		Type:   ChecksumSHA256,
		Digest: hex.EncodeToString(digest[:]),
	}
}
