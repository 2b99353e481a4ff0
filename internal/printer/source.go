package printer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Source discovers printers of one kind
type Source interface {
	Kind() Kind
	Discover(ctx context.Context) ([]Printer, error)
}

// sourceOrder is the merge order of discovery results
var sourceOrder = []Kind{KindSystem, KindUSB, KindSerial, KindNetwork}

// discover runs every source concurrently and merges the results in a
// stable order. Failed sources are skipped as long as any source returned
// printers; otherwise their errors are joined.
func discover(ctx context.Context, sources []Source) ([]Printer, error) {
	results := make([][]Printer, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			found, err := src.Discover(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s discovery: %w", src.Kind(), err)
				return nil
			}
			results[i] = found
			return nil
		})
	}
	g.Wait()

	var merged []Printer
	for _, kind := range sourceOrder {
		for i, src := range sources {
			if src.Kind() == kind {
				merged = append(merged, results[i]...)
			}
		}
	}
	// sources of unknown kinds go last, in registration order
	for i, src := range sources {
		if !knownKind(src.Kind()) {
			merged = append(merged, results[i]...)
		}
	}

	if len(merged) == 0 {
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func knownKind(k Kind) bool {
	for _, known := range sourceOrder {
		if k == known {
			return true
		}
	}
	return false
}
