package watcher

import (
	"os"
	"path/filepath"

	"github.com/Aman-CERP/amanrag/internal/ingest"
)

// DropBucket is the synthetic bucket name carried by drop-folder
// events. It distinguishes local files from object-store uploads; the
// processor reads local sources straight from disk.
const DropBucket = "drop"

// Synthetic event names, shaped like the webhook's so the rest of the
// pipeline needs no second code path.
const (
	eventDropCreated = "s3:ObjectCreated:Put"
	eventDropRemoved = "s3:ObjectRemoved:Delete"
)

// ObjectEvents converts a debounced batch of file events into object
// events. Directory events are skipped; create and modify both map to
// a creation (re-drops reprocess the document), delete and rename of
// the old name map to removal. Sizes are read from disk; a file that
// vanished between the event and the stat is dropped from the batch.
func ObjectEvents(root string, events []FileEvent) []ingest.ObjectEvent {
	out := make([]ingest.ObjectEvent, 0, len(events))
	for _, ev := range events {
		if ev.IsDir {
			continue
		}
		key := filepath.ToSlash(ev.Path)

		switch ev.Operation {
		case OpCreate, OpModify:
			info, err := os.Stat(filepath.Join(root, ev.Path))
			if err != nil || info.IsDir() {
				continue
			}
			out = append(out, ingest.ObjectEvent{
				EventName: eventDropCreated,
				Bucket:    DropBucket,
				Key:       key,
				Size:      info.Size(),
			})
		case OpDelete, OpRename:
			out = append(out, ingest.ObjectEvent{
				EventName: eventDropRemoved,
				Bucket:    DropBucket,
				Key:       key,
			})
		}
	}
	return out
}
