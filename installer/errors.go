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
package installer

import "github.com/pkg/errors"

var (
	// Pre-write failures.
	ErrNoSlotsConfigured     = errors.New("No slot configuration found")
	ErrBootedSlotNotFound    = errors.New("Did not find booted slot")
	ErrCompatibilityMismatch = errors.New("Compatible mismatch")

	// Image copy failures.
	ErrEmptyImage = errors.New("Input image is empty")
	ErrShortWrite = errors.New("image size and written size differ!")

	// Concurrency guard.
	ErrInstallRunning = errors.New("Installation already in progress")
)
