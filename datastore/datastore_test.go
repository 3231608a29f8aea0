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
package datastore

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *DataStore {
	t.Helper()
	dir, err := ioutil.TempDir("", "rauc-datastore")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLastError(t *testing.T) {
	store := openTestStore(t)

	lastError, err := store.LastError()
	require.NoError(t, err)
	assert.Equal(t, "", lastError)

	require.NoError(t, store.SetLastError("Failed mounting bundle: no medium"))
	lastError, err = store.LastError()
	require.NoError(t, err)
	assert.Equal(t, "Failed mounting bundle: no medium", lastError)

	require.NoError(t, store.SetLastError(""))
	lastError, err = store.LastError()
	require.NoError(t, err)
	assert.Equal(t, "", lastError)
}

func TestInstallHistory(t *testing.T) {
	store := openTestStore(t)

	history, err := store.InstallHistory()
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, store.AppendInstallResult("/srv/update.raucb", 0))
	require.NoError(t, store.AppendInstallResult("http://example.com/m", 1))

	history, err = store.InstallHistory()
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "/srv/update.raucb", history[0].Source)
	assert.Equal(t, 0, history[0].Result)
	assert.Equal(t, 1, history[1].Result)
	assert.False(t, history[0].Time.IsZero())
}

func TestInstallHistoryBounded(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < historyLimit+5; i++ {
		source := fmt.Sprintf("/srv/update-%d.raucb", i)
		require.NoError(t, store.AppendInstallResult(source, 0))
	}

	history, err := store.InstallHistory()
	require.NoError(t, err)
	require.Len(t, history, historyLimit)
	// Oldest entries are dropped.
	assert.Equal(t, "/srv/update-5.raucb", history[0].Source)
}

func TestClosedStore(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())

	assert.Error(t, store.SetLastError("x"))
	_, err := store.LastError()
	assert.Error(t, err)
}
