package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

const upSuffix = ".up.sql"

// migration is one NNN_name.up.sql file.
type migration struct {
	Version  int64
	Name     string
	SQL      string
	Checksum string
}

// discover reads every up migration in fsys, ordered by version. Down files
// and anything not shaped NNN_name.up.sql are ignored.
func discover(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []migration
	seen := make(map[int64]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), upSuffix) {
			continue
		}
		version, name, err := parseMigrationName(e.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("version %d used by both %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{
			Version:  version,
			Name:     name,
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseMigrationName splits "001_init.up.sql" into 1 and "init".
func parseMigrationName(file string) (int64, string, error) {
	prefix, name, ok := strings.Cut(strings.TrimSuffix(file, upSuffix), "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("%s: want NNN_name%s", file, upSuffix)
	}
	version, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("%s: version %q is not a positive integer", file, prefix)
	}
	return version, name, nil
}

// pending returns the migrations not yet recorded in applied, which maps
// version to checksum. An applied file whose contents changed is an error:
// the schema on disk no longer describes the database.
func pending(all []migration, applied map[int64]string) ([]migration, error) {
	var out []migration
	for _, m := range all {
		sum, ok := applied[m.Version]
		if !ok {
			out = append(out, m)
			continue
		}
		if sum != m.Checksum {
			return nil, fmt.Errorf("migration %03d_%s was edited after it was applied", m.Version, m.Name)
		}
	}
	return out, nil
}
