package history

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
)

//go:embed migrations
var migrations embed.FS

// migrate executes every .up.sql file under dir in name order. The
// statements are idempotent, so this runs on every open.
func migrate(ctx context.Context, dir string, exec func(ctx context.Context, sql string) error, logger *zap.Logger) error {
	entries, err := fs.ReadDir(migrations, path.Join("migrations", dir))
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := fs.ReadFile(migrations, path.Join("migrations", dir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if err := exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		logger.Debug("migration applied", zap.String("driver", dir), zap.String("file", f))
	}
	return nil
}
