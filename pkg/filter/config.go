package filter

import (
	"fmt"
	"log"

	"github.com/willibrandon/ChronoState/pkg/config"
	"github.com/willibrandon/ChronoState/pkg/recorder"
)

// FromConfig builds the filter described by cfg. The selective rules only
// apply to the selective engine.
func FromConfig(cfg config.Filter, logger *log.Logger) (recorder.Filter, error) {
	var f recorder.Filter
	src := Expressions{Body: cfg.Body, Constraint: cfg.Constraint, Contact: cfg.Contact}

	switch cfg.Engine {
	case "", "selective":
		opts := DefaultOptions()
		opts.ExcludeStatic = cfg.ExcludeStatic
		opts.SaveContacts = cfg.Contacts
		opts.SaveConstraints = cfg.Constraints
		for _, id := range cfg.IncludeBodies {
			opts.IncludeBodies = append(opts.IncludeBodies, recorder.BodyID(id))
		}
		for _, id := range cfg.ExcludeBodies {
			opts.ExcludeBodies = append(opts.ExcludeBodies, recorder.BodyID(id))
		}
		for _, l := range cfg.IncludeLayers {
			if l < 0 || l > 255 {
				return nil, fmt.Errorf("filter: layer %d out of range", l)
			}
			opts.IncludeLayers = append(opts.IncludeLayers, uint8(l))
		}
		f = NewSelective(opts)
	case "expr":
		e, err := NewExpr(src, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		f = e
	case "cel":
		e, err := NewCEL(src, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		f = e
	default:
		return nil, fmt.Errorf("filter: unknown engine %q", cfg.Engine)
	}

	if cfg.CacheSize > 0 {
		m, err := Memoize(f, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		f = m
	}
	return f, nil
}
