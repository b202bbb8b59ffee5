// Package comment loads human-authored reference comments from on-disk
// tables partitioned by (season, kind), lazily and in parallel, with the
// loaded partitions held in a TTL cache.
package comment

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"kazeguide/pkg/cache"
	"kazeguide/pkg/config"
	"kazeguide/pkg/model"
)

const (
	maxTextRunes   = 200
	loadWorkers    = 4
	badRowFraction = 0.05
)

// Repository serves reference comments from the partitioned CSV tables.
type Repository struct {
	dir    string
	suffix string
	parts  *cache.Cache[string, []model.ReferenceComment]
	sem    chan struct{}
	now    func() time.Time
}

// NewRepository creates a Repository and registers its partition cache with
// the manager under "comments".
func NewRepository(cfg config.CommentsConfig, mgr *cache.Manager) *Repository {
	ttl := time.Duration(cfg.CacheTTL)
	if ttl <= 0 {
		ttl = time.Hour
	}
	maxSize := cfg.CacheMaxSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	parts := cache.New[string, []model.ReferenceComment](cache.Options{
		DefaultTTL: ttl,
		MaxSize:    maxSize,
	})
	if mgr != nil {
		mgr.Register(cache.NameComments, parts)
	}

	suffix := cfg.Suffix
	if suffix == "" {
		suffix = "_enhanced100.csv"
	}
	return &Repository{
		dir:    cfg.Dir,
		suffix: suffix,
		parts:  parts,
		sem:    make(chan struct{}, loadWorkers),
		now:    time.Now,
	}
}

// SetClock replaces the repository clock. Test hook.
func (r *Repository) SetClock(now func() time.Time) { r.now = now }

// GetBySeason returns up to limit comments drawn from the given seasons
// (both kinds), sorted by count descending.
func (r *Repository) GetBySeason(ctx context.Context, seasons []model.Season, limit int) ([]model.ReferenceComment, error) {
	var pairs []partitionKey
	for _, s := range seasons {
		for _, k := range model.AllKinds {
			pairs = append(pairs, partitionKey{season: s, kind: k})
		}
	}
	comments, err := r.loadPartitions(ctx, pairs)
	if err != nil {
		return nil, err
	}
	sortByCount(comments)
	if limit > 0 && len(comments) > limit {
		comments = comments[:limit]
	}
	return comments, nil
}

// GetRecent returns the top comments for the seasons relevant to month m.
// A zero month means "now".
func (r *Repository) GetRecent(ctx context.Context, m time.Month, limit int) ([]model.ReferenceComment, error) {
	if m == 0 {
		m = r.now().In(model.JST).Month()
	}
	return r.GetBySeason(ctx, SeasonsForMonth(m), limit)
}

// AllAvailable returns up to maxPerPartition comments from every partition.
func (r *Repository) AllAvailable(ctx context.Context, maxPerPartition int) ([]model.ReferenceComment, error) {
	var out []model.ReferenceComment
	for _, s := range model.AllSeasons {
		for _, k := range model.AllKinds {
			part, err := r.loadPartition(ctx, partitionKey{season: s, kind: k})
			if err != nil {
				return nil, err
			}
			if maxPerPartition > 0 && len(part) > maxPerPartition {
				part = part[:maxPerPartition]
			}
			out = append(out, part...)
		}
	}
	return out, nil
}

type partitionKey struct {
	season model.Season
	kind   model.Kind
}

func (k partitionKey) String() string {
	return string(k.season) + "_" + string(k.kind)
}

// loadPartitions loads the requested partitions with a small worker pool
// and returns their union.
func (r *Repository) loadPartitions(ctx context.Context, keys []partitionKey) ([]model.ReferenceComment, error) {
	results := make([][]model.ReferenceComment, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key partitionKey) {
			defer wg.Done()
			select {
			case r.sem <- struct{}{}:
				defer func() { <-r.sem }()
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			results[i], errs[i] = r.loadPartition(ctx, key)
		}(i, key)
	}
	wg.Wait()

	var out []model.ReferenceComment
	for i := range keys {
		if errs[i] != nil {
			return nil, errs[i]
		}
		out = append(out, results[i]...)
	}
	return out, nil
}

// loadPartition returns a partition from cache, loading it from disk on
// first use. A missing file is an empty partition, never an error.
func (r *Repository) loadPartition(_ context.Context, key partitionKey) ([]model.ReferenceComment, error) {
	if part, ok := r.parts.Get(key.String()); ok {
		return part, nil
	}

	path := filepath.Join(r.dir, key.String()+r.suffix)
	part, err := r.parseFile(path, key)
	if err != nil {
		return nil, err
	}
	r.parts.Set(key.String(), part)
	return part, nil
}

func (r *Repository) parseFile(path string, key partitionKey) ([]model.ReferenceComment, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Comments: partition file missing, treating as empty", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open partition %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(stripBOM(f))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read partition header %s: %w", path, err)
	}

	textCol, countCol := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "weather_comment", "advice":
			textCol = i
		case "count":
			countCol = i
		}
	}
	if textCol == -1 {
		return nil, fmt.Errorf("partition %s has no weather_comment or advice column", path)
	}

	var (
		comments []model.ReferenceComment
		rowNum   int
		badRows  int
	)
	base := filepath.Base(path)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			badRows++
			continue
		}
		if textCol >= len(row) {
			badRows++
			continue
		}

		text := strings.TrimSpace(row[textCol])
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) > maxTextRunes {
			slog.Warn("Comments: truncating overlong text", "file", base, "row", rowNum)
			text = string([]rune(text)[:maxTextRunes])
		}

		count := 0
		if countCol != -1 && countCol < len(row) {
			c, err := strconv.Atoi(strings.TrimSpace(row[countCol]))
			if err != nil {
				slog.Warn("Comments: bad count value, defaulting to 0", "file", base, "row", rowNum)
			} else {
				count = c
			}
		}

		comments = append(comments, model.ReferenceComment{
			Text:       text,
			Kind:       key.kind,
			Season:     key.season,
			SourceFile: base,
			RowNumber:  rowNum,
			Count:      count,
		})
	}

	if rowNum > 0 && float64(badRows)/float64(rowNum) > badRowFraction {
		slog.Warn("Comments: partition discarded more than 5% of rows",
			"file", base, "rows", rowNum, "bad_rows", badRows)
	}
	return comments, nil
}

func sortByCount(comments []model.ReferenceComment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].Count > comments[j].Count
	})
}

// stripBOM removes a UTF-8 byte-order mark if present.
func stripBOM(r io.Reader) io.Reader {
	br := make([]byte, 3)
	n, _ := io.ReadFull(r, br)
	if n == 3 && br[0] == 0xEF && br[1] == 0xBB && br[2] == 0xBF {
		return r
	}
	return io.MultiReader(strings.NewReader(string(br[:n])), r)
}
