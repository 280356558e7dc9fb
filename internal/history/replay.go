package history

import "sort"

// Replay folds file records, applied oldest first, into the live file set.
//
// The last record applied for a filename wins. A deleted record removes the
// filename. A renamed record carries content for its new name and retires the
// previous name.
type Replay struct {
	live map[string]*FileRecord
}

// NewReplay returns an empty replay.
func NewReplay() *Replay {
	return &Replay{live: make(map[string]*FileRecord)}
}

// Apply folds one record into the live set. Records must be applied in
// (created_at, insertion) order.
func (r *Replay) Apply(rec *FileRecord) {
	switch rec.ChangeType {
	case ChangeDeleted:
		delete(r.live, rec.Filename)
	case ChangeRenamed:
		if rec.PreviousFilename != "" && rec.PreviousFilename != rec.Filename {
			delete(r.live, rec.PreviousFilename)
		}
		r.live[rec.Filename] = rec
	default:
		r.live[rec.Filename] = rec
	}
}

// ApplyUntil applies records whose timestamp is at or before cutoff and returns
// the records that were not applied.
func (r *Replay) ApplyUntil(records []*FileRecord, cutoff int64) []*FileRecord {
	i := 0
	for ; i < len(records); i++ {
		if records[i].CreatedAt > cutoff {
			break
		}
		r.Apply(records[i])
	}
	return records[i:]
}

// Has reports whether filename is live.
func (r *Replay) Has(filename string) bool {
	_, ok := r.live[filename]
	return ok
}

// Len returns the number of live files.
func (r *Replay) Len() int {
	return len(r.live)
}

// Files returns the live records sorted by filename.
func (r *Replay) Files() []*FileRecord {
	files := make([]*FileRecord, 0, len(r.live))
	for _, rec := range r.live {
		files = append(files, rec)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files
}

// FileTypes returns the distinct file types of the live set, sorted.
func (r *Replay) FileTypes() []string {
	seen := make(map[string]struct{}, len(r.live))
	types := make([]string, 0)
	for _, rec := range r.live {
		if rec.FileType == "" {
			continue
		}
		if _, ok := seen[rec.FileType]; ok {
			continue
		}
		seen[rec.FileType] = struct{}{}
		types = append(types, rec.FileType)
	}
	sort.Strings(types)
	return types
}

// Collapse reconstructs the file set at cutoff from records sorted oldest first.
func Collapse(records []*FileRecord, cutoff int64) []*FileRecord {
	r := NewReplay()
	r.ApplyUntil(records, cutoff)
	return r.Files()
}
