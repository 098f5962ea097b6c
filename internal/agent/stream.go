package agent

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/portiq/internal/catalog"
)

// sectionSpec names one section of a stream and the corpus it reads.
type sectionSpec struct {
	key  string
	kind DocumentKind
}

// lookupSections resolves every section of a stream before anything runs,
// so a configuration error never leaves work in flight.
func lookupSections(sections *catalog.Sections, stream string, specs []sectionSpec) ([]catalog.Section, error) {
	out := make([]catalog.Section, len(specs))
	for i, s := range specs {
		sec, err := sections.Get(stream, s.key)
		if err != nil {
			return nil, err
		}
		out[i] = sec
	}
	return out, nil
}

// launch starts one section on g and stores its result in *out. The group
// has no shared context, so siblings of a failed section still finish.
func launch[T any](ctx context.Context, g *errgroup.Group, sa *SectionAnalyzer, ticker string, sec catalog.Section, kind DocumentKind, limit int, out **T) {
	g.Go(func() error {
		v, err := AnalyzeSection[T](ctx, sa, ticker, sec, kind, limit)
		if err != nil {
			return fmt.Errorf("section %s: %w", sec.Key, err)
		}
		*out = v
		return nil
	})
}

// labeled pairs a section result with the heading it is rendered under.
type labeled struct {
	label string
	value any
}

// renderSections builds the consolidation payload. Fields are written in
// declaration order under their json names.
func renderSections(ticker string, parts []labeled) string {
	blocks := make([]string, 0, len(parts))
	for _, p := range parts {
		blocks = append(blocks, strings.ToUpper(p.label)+":\n"+renderFields(p.value))
	}
	return "Section analyses for " + ticker + ":\n\n" + strings.Join(blocks, "\n\n")
}

func renderFields(v any) string {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Sprint(rv.Interface())
	}

	rt := rv.Type()
	lines := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		lines = append(lines, name+": "+renderValue(rv.Field(i)))
	}
	return strings.Join(lines, "\n")
}

func renderValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Slice:
		items := make([]string, v.Len())
		for i := range items {
			items[i] = renderValue(v.Index(i))
		}
		return strings.Join(items, "; ")
	case reflect.Pointer:
		if v.IsNil() {
			return "null"
		}
		return renderValue(v.Elem())
	}
	return fmt.Sprint(v.Interface())
}
