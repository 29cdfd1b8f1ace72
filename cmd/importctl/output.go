package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/bulkimport/bulkimport/internal/api/models"
	"github.com/bulkimport/bulkimport/internal/state"
)

func printBatch(out io.Writer, res *batchResult, asJSON bool) error {
	if asJSON {
		view := struct {
			Task    models.Task     `json:"task"`
			Records []models.Record `json:"records"`
		}{Task: models.NewTask(res.Task), Records: make([]models.Record, 0, len(res.Records))}
		for _, r := range res.Records {
			view.Records = append(view.Records, models.NewRecord(r))
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(out, "Task %s: %s\n", res.Task.ID, res.Task.Status)

	counts := table.NewWriter()
	counts.SetOutputMirror(out)
	counts.AppendHeader(table.Row{"Status", "Records"})
	keys := make([]string, 0, len(res.Task.RecordsStatus))
	for k := range res.Task.RecordsStatus {
		if k != state.TotalRecordsKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if n := res.Task.RecordsStatus[k]; n > 0 {
			counts.AppendRow(table.Row{k, n})
		}
	}
	counts.AppendFooter(table.Row{"total", res.Task.RecordsStatus.Total()})
	counts.Render()

	records := table.NewWriter()
	records.SetOutputMirror(out)
	records.AppendHeader(table.Row{"Record", "Status", "Platform ID", "Errors"})
	for _, r := range res.Records {
		id := r.GeneratedRecordID
		if id == "" {
			id = r.ExistingRecordID
		}
		msgs := make([]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			msgs = append(msgs, e.String())
		}
		records.AppendRow(table.Row{r.ID, r.Status, id, summarize(msgs)})
	}
	records.Render()
	return nil
}
