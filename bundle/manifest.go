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
	"strings"

	"github.com/pkg/errors"
	ini "gopkg.in/ini.v1"
)

const (
	ManifestName = "manifest.raucm"

	imageSectionPrefix = "image."
	fileSectionPrefix  = "file."
)

// Image maps a filesystem image payload onto a slot class.
type Image struct {
	SlotClass string
	Filename  string
	Checksum  Checksum
}

// File maps a single file payload onto a destination name inside a slot of
// the given class.
type File struct {
	SlotClass string
	DestName  string
	Filename  string
	Checksum  Checksum
}

// Manifest describes an update: the compat token, an optional custom handler
// and the payloads keyed by slot class. Produced by the bundle layer after
// signature verification.
type Manifest struct {
	UpdateCompatible string
	UpdateVersion    string

	HandlerName string
	HandlerArgs []string

	Images []*Image
	Files  []*File
}

// LoadManifest parses a manifest keyfile:
//
//	[update]
//	compatible=FooCorp Super BarBazzer
//	version=2021.08-1
//
//	[image.rootfs]
//	filename=rootfs.ext4
//	sha256=b14c...
//
//	[file.rootfs/vmlinuz]
//	filename=vmlinuz
//	sha256=27b5...
func LoadManifest(data []byte) (*Manifest, error) {
	file, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "Failed parsing manifest")
	}

	update, err := file.GetSection("update")
	if err != nil {
		return nil, errors.New("Manifest misses [update] section")
	}

	manifest := &Manifest{
		UpdateCompatible: update.Key("compatible").String(),
		UpdateVersion:    update.Key("version").String(),
	}
	if manifest.UpdateCompatible == "" {
		return nil, errors.New("Manifest misses compatible string")
	}

	if handler, err := file.GetSection("handler"); err == nil {
		manifest.HandlerName = handler.Key("filename").String()
		if args := handler.Key("args").String(); args != "" {
			manifest.HandlerArgs = strings.Fields(args)
		}
	}

	for _, section := range file.Sections() {
		name := section.Name()
		switch {
		case strings.HasPrefix(name, imageSectionPrefix):
			image, err := imageFromSection(section)
			if err != nil {
				return nil, err
			}
			manifest.Images = append(manifest.Images, image)
		case strings.HasPrefix(name, fileSectionPrefix):
			f, err := fileFromSection(section)
			if err != nil {
				return nil, err
			}
			manifest.Files = append(manifest.Files, f)
		}
	}

	if len(manifest.Images) == 0 && len(manifest.Files) == 0 {
		return nil, errors.New("Manifest carries neither images nor files")
	}

	return manifest, nil
}

func imageFromSection(section *ini.Section) (*Image, error) {
	class := strings.TrimPrefix(section.Name(), imageSectionPrefix)
	if class == "" {
		return nil, errors.Errorf("Invalid image section '%s'", section.Name())
	}

	image := &Image{
		SlotClass: class,
		Filename:  section.Key("filename").String(),
		Checksum: Checksum{
			Type:   ChecksumSHA256,
			Digest: section.Key("sha256").String(),
		},
	}
	if image.Filename == "" {
		return nil, errors.Errorf("Image for class '%s' has no filename", class)
	}
	if image.Checksum.Digest == "" {
		return nil, errors.Errorf("Image for class '%s' has no sha256", class)
	}
	return image, nil
}

func fileFromSection(section *ini.Section) (*File, error) {
	spec := strings.TrimPrefix(section.Name(), fileSectionPrefix)
	idx := strings.Index(spec, "/")
	if idx <= 0 || idx == len(spec)-1 {
		return nil, errors.Errorf("Invalid file section '%s'", section.Name())
	}

	f := &File{
		SlotClass: spec[:idx],
		DestName:  spec[idx+1:],
		Filename:  section.Key("filename").String(),
		Checksum: Checksum{
			Type:   ChecksumSHA256,
			Digest: section.Key("sha256").String(),
		},
	}
	if f.Filename == "" {
		return nil, errors.Errorf("File '%s' has no filename", spec)
	}
	if f.Checksum.Digest == "" {
		return nil, errors.Errorf("File '%s' has no sha256", spec)
	}
	return f, nil
}
