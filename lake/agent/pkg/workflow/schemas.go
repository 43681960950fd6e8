package workflow

import (
	"context"
	"strings"

	"github.com/malbeclabs/askql/lake/pkg/dataset"
)

// fetchSchemas loads the schemas of the given tables in parallel, preserving
// their order. Tables whose schema cannot be loaded are skipped.
func (e *engine) fetchSchemas(ctx context.Context, tables []string) ([]*dataset.TableSchema, error) {
	if len(tables) == 0 {
		return nil, nil
	}

	group := e.schemas.NewGroupContext(ctx)
	for _, table := range tables {
		table := table
		group.SubmitErr(func() (*dataset.TableSchema, error) {
			s, err := e.cfg.Datasets.Schema(ctx, table)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.log.Warn("workflow: failed to get table schema, skipping", "table", table, "error", err)
				return nil, nil
			}
			return s, nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, err
	}
	out := make([]*dataset.TableSchema, 0, len(results))
	for _, s := range results {
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// dataTables drops the general tag from a selection.
func dataTables(selected []string) []string {
	out := make([]string, 0, len(selected))
	for _, t := range selected {
		if !strings.EqualFold(t, GeneralTag) {
			out = append(out, t)
		}
	}
	return out
}

func hasGeneral(selected []string) bool {
	for _, t := range selected {
		if strings.EqualFold(t, GeneralTag) {
			return true
		}
	}
	return false
}
