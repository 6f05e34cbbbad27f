package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

type embeddedFile struct {
	version uint
	name    string
}

// upMigrations lists the embedded .up.sql files ordered by version.
func upMigrations() ([]embeddedFile, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var files []embeddedFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, ok := parseMigrationVersion(name)
		if !ok {
			return nil, fmt.Errorf("invalid migration filename: %s", name)
		}
		files = append(files, embeddedFile{version: version, name: name})
	}
	if len(files) == 0 {
		return nil, errors.New("no embedded migrations found")
	}

	slices.SortFunc(files, func(a, b embeddedFile) int { return int(a.version) - int(b.version) })
	dupes := lo.FindDuplicatesBy(files, func(f embeddedFile) uint { return f.version })
	if len(dupes) > 0 {
		return nil, fmt.Errorf("duplicate migration version %d", dupes[0].version)
	}
	return files, nil
}

// LatestMigrationVersion returns the highest embedded migration version.
func LatestMigrationVersion() (uint, error) {
	files, err := upMigrations()
	if err != nil {
		return 0, err
	}
	return files[len(files)-1].version, nil
}

// MigrationsChecksum hashes every up migration in version order. It is stored
// in system_bootstrap_state to spot edited migrations.
func MigrationsChecksum() (string, error) {
	files, err := upMigrations()
	if err != nil {
		return "", err
	}

	hasher := sha256.New()
	for _, f := range files {
		content, err := embeddedMigrations.ReadFile(migrationsDir + "/" + f.name)
		if err != nil {
			return "", fmt.Errorf("read migration %s: %w", f.name, err)
		}
		fmt.Fprintf(hasher, "%d\x00%s\x00", f.version, f.name)
		_, _ = hasher.Write(content)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// parseMigrationVersion reads the numeric prefix of NNNN_name.up.sql.
func parseMigrationVersion(name string) (uint, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || prefix == "" {
		return 0, false
	}
	parsed, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil || parsed == 0 {
		return 0, false
	}
	return uint(parsed), true
}
