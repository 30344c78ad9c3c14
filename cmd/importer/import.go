package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/core/usecases"
)

const batchSize = 500

// ruleNamespace seeds deterministic rule IDs so re-imports update in place.
var ruleNamespace = uuid.MustParse("6f0c5a52-8a43-4b8e-9a0d-3d2b7c1e2f10")

// Manifest lists rule files to import.
type Manifest struct {
	Source string      `json:"source"`
	User   string      `json:"user"` // creator for records that name none
	Files  []FileEntry `json:"files"`
}

// FileEntry is one JSON array of records, read from Path or fetched from URL.
type FileEntry struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

// record is a rule as exported by another annotation store.
type record struct {
	SourceID string `json:"source_id"`
	domain.Rule
}

// FileResult summarises one file.
type FileResult struct {
	Name     string
	Imported int
	Rejected int
	Err      error
}

type importer struct {
	rules   *usecases.RuleService
	client  *http.Client
	source  string
	user    string
	workers int
}

// ruleID derives a stable ID from the record's origin, or from its content
// when the origin gives none.
func ruleID(source, file string, r record) string {
	key := r.SourceID
	if key == "" {
		key = strings.Join([]string{
			strconv.FormatInt(r.TaxonKey, 10), r.DatasetKey, strings.ToUpper(string(r.Annotation)), r.Geometry,
		}, "|")
	}
	return uuid.NewSHA1(ruleNamespace, []byte(source+"/"+file+"/"+key)).String()
}

// run imports every file with at most workers files in flight.
func (im *importer) run(ctx context.Context, files []FileEntry) []FileResult {
	results := make([]FileResult, len(files))
	var wg sync.WaitGroup
	sem := make(chan struct{}, im.workers)

	for i, f := range files {
		wg.Add(1)
		go func(i int, f FileEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = im.importFile(ctx, f)
		}(i, f)
	}

	wg.Wait()
	return results
}

func (im *importer) importFile(ctx context.Context, f FileEntry) FileResult {
	res := FileResult{Name: f.Name}
	logger := slog.With("file", f.Name)

	rc, err := im.open(ctx, f)
	if err != nil {
		res.Err = err
		return res
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		res.Err = fmt.Errorf("%s: expected a JSON array of rules", f.Name)
		return res
	}

	batch := make([]domain.Rule, 0, batchSize)
	flush := func() error {
		n, rejected, err := im.rules.ImportBatch(ctx, im.user, batch)
		res.Imported += n
		res.Rejected += len(rejected)
		for _, r := range rejected {
			logger.Warn("rule rejected", "rule_id", r.ID, "error", r.Err)
		}
		batch = batch[:0]
		return err
	}

	for dec.More() {
		var r record
		if err := dec.Decode(&r); err != nil {
			res.Err = fmt.Errorf("%s: decode record: %w", f.Name, err)
			return res
		}
		r.Rule.ID = ruleID(im.source, f.Name, r)
		batch = append(batch, r.Rule)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				res.Err = err
				return res
			}
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			res.Err = err
		}
	}
	logger.Info("file imported", "imported", res.Imported, "rejected", res.Rejected)
	return res
}

func (im *importer) open(ctx context.Context, f FileEntry) (io.ReadCloser, error) {
	if f.URL == "" {
		return os.Open(f.Path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := im.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, f.URL)
	}
	return resp.Body, nil
}

func newImporter(rules *usecases.RuleService, m Manifest) *importer {
	user := m.User
	if user == "" {
		user = "importer"
	}
	return &importer{
		rules:   rules,
		client:  &http.Client{Timeout: 120 * time.Second},
		source:  m.Source,
		user:    user,
		workers: 4,
	}
}
