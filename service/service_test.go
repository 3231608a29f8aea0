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
package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rauc/rauc-go/boot"
	"github.com/rauc/rauc-go/conf"
	"github.com/rauc/rauc-go/installer"
)

func testContext(t *testing.T) *installer.Context {
	t.Helper()
	config := &conf.Config{
		SystemCompatible: "devX",
		SystemBootloader: "noop",
		Slots: []*conf.Slot{
			{Name: "rootfs.0", Class: "rootfs",
				Device: "/dev/sda2", Bootname: "A"},
		},
	}
	ctx, err := installer.NewContext(config, nil, nil)
	require.NoError(t, err)
	ctx.Bootname = boot.StaticProvider("A")
	return ctx
}

func TestInfo(t *testing.T) {
	obj := NewInstaller(testContext(t))

	compatible, booted, derr := obj.Info()
	assert.Nil(t, derr)
	assert.Equal(t, "devX", compatible)
	assert.Equal(t, "A", booted)
}

func TestBusyAndLastError(t *testing.T) {
	ctx := testContext(t)
	obj := NewInstaller(ctx)

	busy, derr := obj.Busy()
	assert.Nil(t, derr)
	assert.False(t, busy)

	ctx.SetLastError("Failed mounting bundle: no medium")
	message, derr := obj.LastError()
	assert.Nil(t, derr)
	assert.Equal(t, "Failed mounting bundle: no medium", message)
}
