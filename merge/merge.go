// Package merge implements the deep-merge engine for configuration
// documents.
//
// A Document is a parsed configuration fragment: a tree of nested string-keyed
// maps, slices, and scalars, as produced by the format parsers. The engine
// never mutates its inputs; every operation returns a freshly constructed
// document. Inputs are assumed to be tree-shaped (no back-references), so no
// cycle detection is performed.
//
// Merging is right-biased: for any key present in both documents the source
// value wins, unless a skip rule or custom merger says otherwise.
package merge

import (
	"fmt"
	"reflect"
	"sort"
)

// Document is a parsed configuration fragment. Values are strings, numbers,
// booleans, nil, nested Documents, or slices of any of these.
type Document = map[string]any

// Strategy selects how two documents are combined.
type Strategy string

const (
	// StrategyDeep recursively merges nested documents. This is the default.
	StrategyDeep Strategy = "deep"

	// StrategyShallow overlays source's top-level keys onto target without
	// recursing into nested documents.
	StrategyShallow Strategy = "shallow"

	// StrategyReplace discards target entirely and returns source.
	StrategyReplace Strategy = "replace"
)

// ArrayPolicy selects how two slices at the same key are combined.
type ArrayPolicy string

const (
	// ArrayReplace takes the source slice as-is. This is the default.
	ArrayReplace ArrayPolicy = "replace"

	// ArrayConcat appends source's elements after target's, keeping duplicates.
	ArrayConcat ArrayPolicy = "concat"

	// ArrayUnique concatenates and removes duplicates, preserving
	// first-occurrence order.
	ArrayUnique ArrayPolicy = "unique"
)

// MergerFunc combines the target and source values for a single key.
// Returning an error aborts the entire merge.
type MergerFunc func(target, source any) (any, error)

// Options controls merge behavior. The zero value means deep strategy,
// replace array policy, and no key filtering.
type Options struct {
	Strategy    Strategy
	ArrayPolicy ArrayPolicy

	// CustomMergers maps key names to merger functions. When a source key has
	// a custom merger, the merger's result is used verbatim and no further
	// processing happens for that key.
	CustomMergers map[string]MergerFunc

	// SkipKeys lists keys that are never overridden; target's existing value
	// is preserved unchanged.
	SkipKeys []string

	// OnlyKeys, when non-nil, restricts the merge to the listed keys.
	OnlyKeys []string
}

// DefaultOptions returns the options used when callers pass the zero value.
func DefaultOptions() Options {
	return Options{Strategy: StrategyDeep, ArrayPolicy: ArrayReplace}
}

type absentValue struct{}

// Absent is the explicit "no value" marker, distinct from nil (which
// represents an explicit null). A source entry equal to Absent is skipped
// during merging: a merge never downgrades an existing value to absent.
var Absent any = absentValue{}

func isAbsent(v any) bool {
	_, ok := v.(absentValue)
	return ok
}

// Merge deep-merges source into target under the given options and returns
// the combined document. Neither input is mutated. Errors returned by custom
// mergers propagate directly and abort the merge.
func Merge(target, source Document, opts Options) (Document, error) {
	switch opts.Strategy {
	case StrategyReplace:
		return Clone(source), nil
	case StrategyShallow:
		return shallowMerge(target, source), nil
	default:
		return deepMerge(target, source, opts)
	}
}

func shallowMerge(target, source Document) Document {
	out := make(Document, len(target)+len(source))
	for k, v := range target {
		out[k] = cloneValue(v)
	}
	for k, v := range source {
		if isAbsent(v) {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func deepMerge(target, source Document, opts Options) (Document, error) {
	skip := toSet(opts.SkipKeys)
	only := toSet(opts.OnlyKeys)
	if opts.OnlyKeys == nil {
		only = nil
	}

	out := Clone(target)
	for _, k := range sortedKeys(source) {
		if skip[k] {
			continue
		}
		if only != nil && !only[k] {
			continue
		}
		sv := source[k]
		if isAbsent(sv) {
			continue
		}

		if merger, ok := opts.CustomMergers[k]; ok {
			merged, err := merger(target[k], sv)
			if err != nil {
				return nil, err
			}
			out[k] = merged
			continue
		}

		if ss, ok := asSlice(sv); ok {
			if ts, ok := asSlice(target[k]); ok {
				out[k] = combineSlices(ts, ss, opts.ArrayPolicy)
			} else {
				out[k] = cloneSlice(ss)
			}
			continue
		}

		if sm, ok := sv.(Document); ok {
			if tm, ok := target[k].(Document); ok {
				merged, err := deepMerge(tm, sm, opts)
				if err != nil {
					return nil, err
				}
				out[k] = merged
				continue
			}
		}

		out[k] = cloneValue(sv)
	}
	return out, nil
}

func combineSlices(target, source []any, policy ArrayPolicy) []any {
	switch policy {
	case ArrayConcat:
		out := make([]any, 0, len(target)+len(source))
		out = append(out, cloneSlice(target)...)
		out = append(out, cloneSlice(source)...)
		return out
	case ArrayUnique:
		out := make([]any, 0, len(target)+len(source))
		for _, v := range target {
			if !containsValue(out, v) {
				out = append(out, cloneValue(v))
			}
		}
		for _, v := range source {
			if !containsValue(out, v) {
				out = append(out, cloneValue(v))
			}
		}
		return out
	default:
		return cloneSlice(source)
	}
}

func containsValue(s []any, v any) bool {
	for _, e := range s {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of doc. Mutating the copy never affects the
// original.
func Clone(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Document:
		return Clone(val)
	default:
		if s, ok := asSlice(v); ok {
			return cloneSlice(s)
		}
		return v
	}
}

func cloneSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = cloneValue(v)
	}
	return out
}

// asSlice normalizes any slice kind (except []byte) to []any. Parsers may
// produce typed slices such as []string.
func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// sortedKeys returns doc's keys in sorted order. Go maps are unordered, so
// sorting keeps merge results and error ordering deterministic.
func sortedKeys(doc Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Predicate decides whether a source key participates in a conditional merge.
type Predicate func(key string, sourceValue any) bool

// Always is the constant-true predicate; ConditionalMerge with Always is an
// unconditional merge.
func Always(string, any) bool { return true }

// Never is the constant-false predicate; ConditionalMerge with Never returns
// a clone of target unchanged.
func Never(string, any) bool { return false }

// ConditionalMerge merges only the source keys for which pred returns true.
// A nil predicate behaves like Always.
func ConditionalMerge(target, source Document, pred Predicate, opts Options) (Document, error) {
	if pred == nil {
		pred = Always
	}
	filtered := make(Document, len(source))
	for _, k := range sortedKeys(source) {
		if pred(k, source[k]) {
			filtered[k] = source[k]
		}
	}
	return Merge(target, filtered, opts)
}

// TransformFunc rewrites a scalar leaf value before merging.
type TransformFunc func(any) any

// TransformMerge applies the registered transformers to every scalar leaf of
// both documents, then merges the transformed documents. Transformers are
// keyed by full dotted path or bare key name; a path match takes precedence
// over a name match.
func TransformMerge(target, source Document, transformers map[string]TransformFunc, opts Options) (Document, error) {
	return Merge(
		applyTransforms(target, transformers, ""),
		applyTransforms(source, transformers, ""),
		opts,
	)
}

func applyTransforms(doc Document, transformers map[string]TransformFunc, prefix string) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case Document:
			out[k] = applyTransforms(val, transformers, path)
		default:
			if s, ok := asSlice(v); ok {
				out[k] = cloneSlice(s)
				continue
			}
			if fn, ok := transformers[path]; ok {
				out[k] = fn(val)
			} else if fn, ok := transformers[k]; ok {
				out[k] = fn(val)
			} else {
				out[k] = val
			}
		}
	}
	return out
}

// Template is a conditional overlay: Body is merged into a config only when
// Condition holds for it.
type Template struct {
	Condition func(Document) bool
	Body      Document
}

// ApplyTemplate merges tmpl.Body into config under default options when
// tmpl.Condition(config) is true; otherwise it returns a clone of config
// unchanged. A nil condition is an error: a template without a condition is
// a programming mistake, not a config state.
func ApplyTemplate(config Document, tmpl Template) (Document, error) {
	if tmpl.Condition == nil {
		return nil, fmt.Errorf("template condition must not be nil")
	}
	if !tmpl.Condition(config) {
		return Clone(config), nil
	}
	return Merge(config, tmpl.Body, DefaultOptions())
}
