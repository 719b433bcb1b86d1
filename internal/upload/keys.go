package upload

import (
	"context"
	"strings"

	"github.com/ca-x/asset-syncer/internal/files"
	"github.com/ca-x/asset-syncer/internal/rule"
)

// Sep separates storage key segments.
const Sep = "/"

// BasePathTransform rewrites the configured base path before keys are built.
type BasePathTransform func(ctx context.Context, basePath string) (string, error)

func Identity(_ context.Context, basePath string) (string, error) {
	return basePath, nil
}

// AddTrailingSep appends Sep unless s is empty or already ends with it.
func AddTrailingSep(s string) string {
	if s == "" || strings.HasSuffix(s, Sep) {
		return s
	}
	return s + Sep
}

// Key joins a resolved base path and a file name, dropping one leading Sep.
func Key(basePath, name string) string {
	return strings.TrimPrefix(basePath+name, Sep)
}

// Partition splits files into upload tiers. The first group holds files that
// match no tier; each following group holds the files claimed by the tier
// at the same position, in tier order. A file is claimed by the first tier it
// matches.
func Partition(list []files.File, tiers []rule.Rule) ([][]files.File, error) {
	remaining := list
	claimed := make([][]files.File, len(tiers))

	for i, tier := range tiers {
		var rest []files.File
		for _, f := range remaining {
			ok, err := rule.Test(tier, f.Name)
			if err != nil {
				return nil, err
			}
			if ok {
				claimed[i] = append(claimed[i], f)
			} else {
				rest = append(rest, f)
			}
		}
		remaining = rest
	}

	return append([][]files.File{remaining}, claimed...), nil
}
