package batch

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
)

// Zip packages the masked images of a report into an archive, one PNG per
// successful item plus a report.json with the per-item outcomes. Duplicate
// item IDs get an index suffix so no entry is silently overwritten.
func Zip(report *Report) ([]byte, error) {
	if report == nil {
		return nil, Errors.NewWithMessage(ErrArchiveFailed, "nil report")
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	seen := map[string]int{}
	for i := range report.Items {
		item := &report.Items[i]
		if item.Status != StatusOK || len(item.PNG) == 0 {
			continue
		}
		name := item.ID + ".png"
		if n := seen[item.ID]; n > 0 {
			name = fmt.Sprintf("%s-%d.png", item.ID, n)
		}
		seen[item.ID]++
		w, err := zw.Create(name)
		if err != nil {
			return nil, Errors.NewWithCause(ErrArchiveFailed, err)
		}
		if _, err := w.Write(item.PNG); err != nil {
			return nil, Errors.NewWithCause(ErrArchiveFailed, err)
		}
	}

	summary, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, Errors.NewWithCause(ErrArchiveFailed, err)
	}
	w, err := zw.Create("report.json")
	if err != nil {
		return nil, Errors.NewWithCause(ErrArchiveFailed, err)
	}
	if _, err := w.Write(summary); err != nil {
		return nil, Errors.NewWithCause(ErrArchiveFailed, err)
	}

	if err := zw.Close(); err != nil {
		return nil, Errors.NewWithCause(ErrArchiveFailed, err)
	}
	return buf.Bytes(), nil
}
