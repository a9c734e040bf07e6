package crate

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/crate/internal/errors"
)

// FileRef is an iterator value referring to a file or directory on disk.
// Its archive path is its location relative to the base directory given to
// BuildFromIterator.
type FileRef string

// Item is one (key, value) pair of an iterator built by Items.
type Item struct {
	Key   any
	Value any
}

// Items returns an iterator over items, in order.
func Items(items ...Item) iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		for _, item := range items {
			if !yield(item.Key, item.Value) {
				return
			}
		}
	}
}

// WalkDir returns an iterator over the regular files below root, keyed by
// path. Symbolic links to regular files are included under the link's
// path; linked directories are not descended into. A root that is itself
// a link is followed. Walk errors are yielded as values.
func WalkDir(root string) iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		resolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			resolved = root
		}

		_ = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
			if rel, relErr := filepath.Rel(resolved, path); relErr == nil {
				path = filepath.Join(root, rel)
			}
			if err != nil {
				if !yield(path, err) {
					return filepath.SkipAll
				}
				return nil
			}
			if !isRegular(path, d) {
				return nil
			}
			if !yield(path, FileRef(path)) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// isRegular reports whether d is a regular file or a link to one.
func isRegular(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// BuildFromIterator adds every entry produced by seq.
//
// A FileRef value is stored under its path relative to base, which is then
// required. A string value is a path stored under the entry's key, which
// must be a string. Directories become empty directory entries.
func (c *Crate) BuildFromIterator(ctx context.Context, seq iter.Seq2[any, any], base string) error {
	var err error

	seq(func(key, value any) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		err = c.addIterated(key, value, base)
		return err == nil
	})

	return err
}

func (c *Crate) addIterated(key, value any, base string) error {
	switch v := value.(type) {
	case string:
		name, ok := key.(string)
		if !ok {
			return errors.NewUnexpectedValueError(errors.CodeInvalidValue,
				fmt.Sprintf("The key returned by the iterator (%s) is not a string.", kindOf(key)))
		}
		if base != "" {
			if _, _, err := relativeTo(base, v); err != nil {
				return err
			}
		}
		return c.addPath(v, name)

	case FileRef:
		if base == "" {
			return errors.NewArgumentError(errors.CodeMissingArg,
				"The base argument is required for file reference values.")
		}
		name, path, err := relativeTo(base, string(v))
		if err != nil {
			return err
		}
		return c.addPath(path, name)

	case error:
		return errors.NewFileError(errors.CodeOpenFailed,
			fmt.Sprintf("%v: failed to open stream", key), v)

	default:
		return errors.NewUnexpectedValueError(errors.CodeInvalidValue,
			fmt.Sprintf("The iterator value \"%s\" was not expected.", kindOf(value)))
	}
}

func (c *Crate) addPath(path, name string) error {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return c.AddEmptyDir(filepath.ToSlash(name))
	}

	return c.AddFile(path, name)
}

// relativeTo returns the archive name of path below base, and path made
// absolute.
func relativeTo(base, path string) (name, abs string, err error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", "", errors.NewFileError(errors.CodeNotFound, "unable to resolve the base directory", err).WithPath(base)
	}
	if abs, err = filepath.Abs(path); err != nil {
		return "", "", errors.NewFileError(errors.CodeNotFound, "unable to resolve the path", err).WithPath(path)
	}

	prefix := absBase
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(abs, prefix) {
		return "", "", errors.NewUnexpectedValueError(errors.CodeOutsideBase,
			fmt.Sprintf("The file \"%s\" is not in the base directory.", abs)).WithPath(abs)
	}

	return filepath.ToSlash(abs[len(prefix):]), abs, nil
}

// BuildFromDirectory adds the regular files below dir whose full path
// matches pattern. An empty pattern matches every file. Patterns may be
// written with delimiters and flags, e.g. `/\.php$/i`.
func (c *Crate) BuildFromDirectory(ctx context.Context, dir, pattern string) error {
	re, err := CompilePattern(pattern)
	if err != nil {
		return err
	}

	seq := WalkDir(dir)
	if re != nil {
		seq = Filter(seq, re.MatchString)
	}

	return c.BuildFromIterator(ctx, seq, dir)
}

// Filter returns the entries of seq whose string key passes keep. Error
// values are always kept.
func Filter(seq iter.Seq2[any, any], keep func(path string) bool) iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		seq(func(key, value any) bool {
			if _, isErr := value.(error); !isErr {
				path, ok := key.(string)
				if !ok || !keep(path) {
					return true
				}
			}
			return yield(key, value)
		})
	}
}

// CompilePattern compiles a regular expression written either plainly or
// between delimiters with trailing flags ("/\.php$/i"). Supported flags
// are i, m, s and U. An empty pattern yields a nil regexp.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}

	expr := pattern
	if body, flags, ok := splitDelimited(pattern); ok {
		expr = body
		if flags != "" {
			for _, f := range flags {
				if !strings.ContainsRune("imsU", f) {
					return nil, errors.NewArgumentError(errors.CodeInvalidValue,
						fmt.Sprintf("The pattern modifier %q is not supported.", f))
				}
			}
			expr = "(?" + flags + ")" + body
		}
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.NewArgumentError(errors.CodeInvalidValue,
			fmt.Sprintf("The pattern %q is not valid: %v", pattern, err))
	}

	return re, nil
}

// splitDelimited splits "/body/flags". Any non-alphanumeric, non-space,
// non-backslash character may delimit the pattern, and bracket pairs are
// accepted as in PCRE.
func splitDelimited(pattern string) (body, flags string, ok bool) {
	if len(pattern) < 2 {
		return "", "", false
	}

	open := pattern[0]
	if isAlnum(open) || open == '\\' || open == ' ' {
		return "", "", false
	}
	closing := open
	switch open {
	case '(':
		closing = ')'
	case '{':
		closing = '}'
	case '[':
		closing = ']'
	case '<':
		closing = '>'
	}

	end := strings.LastIndexByte(pattern, closing)
	if end <= 0 {
		return "", "", false
	}
	flags = pattern[end+1:]
	for i := 0; i < len(flags); i++ {
		if !isAlnum(flags[i]) {
			return "", "", false
		}
	}

	return pattern[1:end], flags, true
}

func isAlnum(b byte) bool {
	return ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
