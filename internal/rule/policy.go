package rule

import "path"

// Policy decides which file names are kept for upload.
type Policy struct {
	Include Rule
	Exclude Rule
	// Ignore globs are matched against the full name and its base name.
	Ignore []string
}

// Allows reports whether name passes the include rule, does not match the
// exclude rule and matches no ignore glob.
func (p Policy) Allows(name string) (bool, error) {
	if Ignored(name, p.Ignore) {
		return false, nil
	}
	if p.Include != nil {
		ok, err := Test(p.Include, name)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if p.Exclude != nil {
		excluded, err := Test(p.Exclude, name)
		if err != nil {
			return false, err
		}
		if excluded {
			return false, nil
		}
	}
	return true, nil
}

// Filter returns the subset of names allowed by the policy, keeping order.
func Filter[T any](p Policy, items []T, name func(T) string) ([]T, error) {
	kept := make([]T, 0, len(items))
	for _, item := range items {
		ok, err := p.Allows(name(item))
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// Ignored reports whether name or its base name matches one of the globs.
func Ignored(name string, globs []string) bool {
	base := path.Base(name)
	for _, g := range globs {
		if ok, _ := Test(Glob(g), name); ok {
			return true
		}
		if ok, _ := Test(Glob(g), base); ok {
			return true
		}
	}
	return false
}
