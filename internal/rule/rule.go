// Package rule evaluates include/exclude and priority rules against file names.
package rule

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/danwakefield/fnmatch"
)

var ErrInvalidRule = errors.New("invalid rule")

// Rule is one of Pattern, Literal, Predicate, Glob or All.
type Rule interface {
	isRule()
}

// Pattern matches with a compiled regular expression.
type Pattern struct {
	Re *regexp.Regexp
}

// Literal is a regular expression in source form, compiled when evaluated.
type Literal string

// Predicate matches when the function returns true.
type Predicate func(subject string) bool

// Glob matches with an fnmatch-style wildcard pattern.
type Glob string

// All matches when every member matches. An empty list matches everything.
type All []Rule

func (Pattern) isRule()   {}
func (Literal) isRule()   {}
func (Predicate) isRule() {}
func (Glob) isRule()      {}
func (All) isRule()       {}

// MustCompile returns a Pattern for expr and panics if it does not compile.
func MustCompile(expr string) Pattern {
	return Pattern{Re: regexp.MustCompile(expr)}
}

// Test reports whether subject satisfies r.
func Test(r Rule, subject string) (bool, error) {
	switch v := r.(type) {
	case Pattern:
		if v.Re == nil {
			return false, fmt.Errorf("%w: pattern without expression", ErrInvalidRule)
		}
		return v.Re.MatchString(subject), nil
	case Literal:
		re, err := regexp.Compile(string(v))
		if err != nil {
			return false, fmt.Errorf("%w: %q: %v", ErrInvalidRule, string(v), err)
		}
		return re.MatchString(subject), nil
	case Predicate:
		if v == nil {
			return false, fmt.Errorf("%w: nil predicate", ErrInvalidRule)
		}
		return v(subject), nil
	case Glob:
		return fnmatch.Match(string(v), subject, 0), nil
	case All:
		for _, member := range v {
			ok, err := Test(member, subject)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: unsupported rule %T", ErrInvalidRule, r)
	}
}

// FromValue converts a decoded configuration value into a Rule. Strings become
// Literals and lists become All. A nil value yields a nil Rule.
func FromValue(v any) (Rule, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case Rule:
		return val, nil
	case *regexp.Regexp:
		return Pattern{Re: val}, nil
	case string:
		if _, err := regexp.Compile(val); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRule, val, err)
		}
		return Literal(val), nil
	case func(string) bool:
		return Predicate(val), nil
	case []string:
		all := make(All, 0, len(val))
		for _, s := range val {
			r, err := FromValue(s)
			if err != nil {
				return nil, err
			}
			all = append(all, r)
		}
		return all, nil
	case []any:
		all := make(All, 0, len(val))
		for i, item := range val {
			r, err := FromValue(item)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			if r == nil {
				return nil, fmt.Errorf("rule %d: %w: empty", i, ErrInvalidRule)
			}
			all = append(all, r)
		}
		return all, nil
	default:
		return nil, fmt.Errorf("%w: unsupported rule shape %T", ErrInvalidRule, v)
	}
}
