package assets

import (
	"log/slog"
	"sort"
)

// SweepOrphans removes asset directories whose doc_id is not in the
// known set (the ids still present in the vector store). With dryRun
// the orphans are reported but left on disk. Returns the orphaned ids
// in sorted order.
func (s *Store) SweepOrphans(known map[string]bool, dryRun bool) ([]string, error) {
	ids, err := s.ListDocIDs()
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, id := range ids {
		if known[id] {
			continue
		}
		orphans = append(orphans, id)
		if dryRun {
			continue
		}
		if _, _, err := s.DeleteDoc(id); err != nil {
			return orphans, err
		}
		s.logger.Info("removed orphaned assets", slog.String("doc_id", id))
	}
	sort.Strings(orphans)
	return orphans, nil
}
