package schema

import (
	"fmt"

	"github.com/nao1215/fastcrawl/internal/config"
	"github.com/nao1215/fastcrawl/internal/processor"
)

// FromConfig builds and validates a schema declared in a configuration file.
func FromConfig(def *config.SchemaConfig) (*Schema, error) {
	s, err := fromConfig(def, 0)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// maxConfigNesting bounds nested schema declarations in files.
const maxConfigNesting = 16

func fromConfig(def *config.SchemaConfig, depth int) (*Schema, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: missing schema", ErrInvalidSchemaType)
	}
	if depth > maxConfigNesting {
		return nil, fmt.Errorf("%w: schema %q nests deeper than %d levels", ErrInvalidSchemaType, def.Name, maxConfigNesting)
	}

	s := &Schema{Name: def.Name, Method: def.Method, Body: def.Body}
	if def.Processor != "" {
		p, err := processor.Lookup(def.Processor)
		if err != nil {
			return nil, fmt.Errorf("schema %q: %w", def.Name, err)
		}
		s.Processor = p
	}

	for _, fd := range def.Fields {
		t, err := ParseType(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("schema %q: field %q: %w", def.Name, fd.Name, err)
		}
		f := Field{Name: fd.Name, Type: t, Optional: fd.Optional, Default: normalize(fd.Default)}

		if fd.Selector != nil {
			sel, err := selectorFromConfig(fd.Selector)
			if err != nil {
				return nil, fmt.Errorf("schema %q: field %q: %w", def.Name, fd.Name, err)
			}
			if fd.Schema != nil {
				nestedDef := *fd.Schema
				if nestedDef.Name == "" {
					nestedDef.Name = def.Name + "." + fd.Name
				}
				nested, err := fromConfig(&nestedDef, depth+1)
				if err != nil {
					return nil, err
				}
				sel.Nested = nested
			}
			f.Selector = sel
		} else if fd.Schema != nil {
			return nil, fmt.Errorf("%w: schema %q: field %q declares a nested schema without selector", ErrInvalidSchemaType, def.Name, fd.Name)
		}
		s.Fields = append(s.Fields, f)
	}

	var err error
	if def.SameStageResolver != nil {
		if s.SameStageResolver, err = selectorFromConfig(def.SameStageResolver); err != nil {
			return nil, fmt.Errorf("schema %q: same stage resolver: %w", def.Name, err)
		}
	}
	if def.NextStageResolver != nil {
		if s.NextStageResolver, err = selectorFromConfig(def.NextStageResolver); err != nil {
			return nil, fmt.Errorf("schema %q: next stage resolver: %w", def.Name, err)
		}
	}
	return s, nil
}

func selectorFromConfig(def *config.SelectorConfig) (*Selector, error) {
	var opts []SelectorOption
	if def.Many {
		opts = append(opts, Many())
	}
	if def.Extract != "" {
		opts = append(opts, Extract(def.Extract))
	}
	if def.Default != nil {
		opts = append(opts, Default(normalize(def.Default)))
	}
	if def.Processor != "" {
		p, err := processor.Lookup(def.Processor)
		if err != nil {
			return nil, err
		}
		opts = append(opts, Using(p))
	}

	set := 0
	var sel *Selector
	if def.Path != "" {
		set++
		sel = Path(def.Path, opts...)
	}
	if def.Style != "" {
		set++
		sel = Style(def.Style, opts...)
	}
	if def.Pattern != "" {
		set++
		sel = Pattern(def.Pattern, opts...)
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: a selector needs exactly one of path, style or pattern", ErrInvalidSchemaType)
	}
	return sel, nil
}

// normalize converts YAML integers to int64 so that literal values match
// extracted ones.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	default:
		return v
	}
}
