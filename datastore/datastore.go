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

// Package datastore persists the engine's observable state — the last
// install error and a bounded install history — in an LMDB database below
// the configured state directory.
package datastore

import (
	"encoding/json"
	"os"
	"path"
	"time"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DBName = "rauc-store"

	keyLastError      = "last-error"
	keyInstallHistory = "install-history"

	historyLimit = 10
)

var ErrNotInitialized = errors.New("datastore not initialized")

// InstallRecord is one entry of the install history.
type InstallRecord struct {
	Source string    `json:"source"`
	Result int       `json:"result"`
	Time   time.Time `json:"time"`
}

// DataStore is an LMDB backed key-value store.
type DataStore struct {
	env *lmdb.Env
}

// Open creates or opens the store below dirpath.
func Open(dirpath string) (*DataStore, error) {
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create DB environment")
	}

	if err := env.Open(path.Join(dirpath, DBName),
		lmdb.NoSubdir, 0600); err != nil {
		return nil, errors.Wrap(err, "failed to open DB environment")
	}

	return &DataStore{env: env}, nil
}

func (d *DataStore) Close() error {
	if d.env != nil {
		if err := d.env.Close(); err != nil {
			return errors.Wrap(err, "failed to close DB")
		}
		d.env = nil
	}
	return nil
}

func (d *DataStore) writeAll(name string, data []byte) error {
	if d.env == nil {
		return ErrNotInitialized
	}

	err := d.env.Update(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenRoot(0)
		if err != nil {
			return err
		}
		return txn.Put(dbi, []byte(name), data, 0)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write data for key %s", name)
	}
	return nil
}

func (d *DataStore) readAll(name string) ([]byte, error) {
	if d.env == nil {
		return nil, ErrNotInitialized
	}

	var data []byte
	err := d.env.View(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenRoot(0)
		if err != nil {
			return err
		}
		value, err := txn.Get(dbi, []byte(name))
		if err != nil {
			return err
		}
		data = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		if lmdb.IsNotFound(err) {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrapf(err, "failed to read data for key %s", name)
	}
	return data, nil
}

// SetLastError stores the message of the most recent failed install; an
// empty message clears it.
func (d *DataStore) SetLastError(message string) error {
	return d.writeAll(keyLastError, []byte(message))
}

// LastError returns the stored last error, or "" when none is recorded.
func (d *DataStore) LastError() (string, error) {
	data, err := d.readAll(keyLastError)
	if os.IsNotExist(err) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	return string(data), nil
}

// AppendInstallResult records the outcome of one install run, keeping the
// newest historyLimit entries.
func (d *DataStore) AppendInstallResult(source string, result int) error {
	history, err := d.InstallHistory()
	if err != nil {
		return err
	}

	history = append(history, InstallRecord{
		Source: source,
		Result: result,
		Time:   time.Now().UTC(),
	})
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	data, err := json.Marshal(history)
	if err != nil {
		return errors.Wrap(err, "failed to encode install history")
	}

	log.Debugf("Recording install result %d for %s", result, source)
	return d.writeAll(keyInstallHistory, data)
}

// InstallHistory returns the recorded install runs, oldest first.
func (d *DataStore) InstallHistory() ([]InstallRecord, error) {
	data, err := d.readAll(keyInstallHistory)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var history []InstallRecord
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, errors.Wrap(err, "failed to decode install history")
	}
	return history, nil
}
