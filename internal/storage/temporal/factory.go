/*
Copyright 2025 Tempus Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package temporal

import (
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/tempusdb/tempus/internal/storage"
)

// Factory creates temporal engines from memory:// and file:// DSNs.
type Factory struct{}

// Create implements the EngineFactory interface.
func (f *Factory) Create(dsn string) (storage.Engine, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return NewEngine(cfg), nil
}

// ParseDSN translates a DSN into an engine configuration.
//
//	memory://
//	file:///var/lib/tempus?sync_mode=full&retention=720h
//
// Recognized parameters: sync_mode (none, normal, full), quota (bytes),
// snapshot_interval, keep_snapshots, snapshot_url, retention (horizon,
// enables the sweep), retention_interval, retention_chunk, archive_url
// and lock_timeout. Durations use Go syntax. Unparsable values keep
// their defaults.
func ParseDSN(dsn string) (storage.Config, error) {
	uri, err := url.Parse(dsn)
	if err != nil {
		return storage.Config{}, err
	}

	cfg := storage.DefaultConfig()
	switch uri.Scheme {
	case "memory":
	case "file":
		path := uri.Host + uri.Path
		if path == "" {
			return storage.Config{}, errors.New("file DSN has no path")
		}
		cfg.Path = path
		cfg.Persistence = storage.DefaultPersistenceConfig()
	default:
		return storage.Config{}, errors.New("unsupported scheme: " + uri.Scheme)
	}

	query := uri.Query()

	if mode := query.Get("sync_mode"); mode != "" {
		switch mode {
		case "none":
			cfg.Persistence.SyncMode = storage.SyncNone
		case "normal":
			cfg.Persistence.SyncMode = storage.SyncNormal
		case "full":
			cfg.Persistence.SyncMode = storage.SyncFull
		default:
			if v, err := strconv.Atoi(mode); err == nil && v >= 0 && v <= 2 {
				cfg.Persistence.SyncMode = storage.SyncMode(v)
			}
		}
	}
	if quota := query.Get("quota"); quota != "" {
		if v, err := strconv.ParseInt(quota, 10, 64); err == nil && v > 0 {
			cfg.Persistence.QuotaBytes = v
		}
	}
	if interval := query.Get("snapshot_interval"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil && d >= 0 {
			cfg.Persistence.SnapshotInterval = d
		}
	}
	if keep := query.Get("keep_snapshots"); keep != "" {
		if v, err := strconv.Atoi(keep); err == nil && v > 0 {
			cfg.Persistence.KeepSnapshots = v
		}
	}
	if snapURL := query.Get("snapshot_url"); snapURL != "" {
		cfg.SnapshotURL = snapURL
	}

	if horizon := query.Get("retention"); horizon != "" {
		if d, err := time.ParseDuration(horizon); err == nil && d > 0 {
			cfg.Retention.Enabled = true
			cfg.Retention.Horizon = d
		}
	}
	if interval := query.Get("retention_interval"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil && d > 0 {
			cfg.Retention.Interval = d
		}
	}
	if chunk := query.Get("retention_chunk"); chunk != "" {
		if v, err := strconv.Atoi(chunk); err == nil && v > 0 {
			cfg.Retention.ChunkSize = v
		}
	}
	if archiveURL := query.Get("archive_url"); archiveURL != "" {
		cfg.Retention.ArchiveURL = archiveURL
	}

	if timeout := query.Get("lock_timeout"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			cfg.WriteLockTimeout = d
		}
	}

	return cfg, nil
}

func init() {
	// Both schemes map to the one engine; the scheme only selects
	// persistence.
	factory := &Factory{}
	storage.RegisterEngineFactory("memory", factory)
	storage.RegisterEngineFactory("file", factory)
}
