// Package catalog loads HTTP import workflows declared in a YAML file.
//
//	workflows:
//	  - id: news-sync
//	    schedule: "*/15 * * * *"
//	    url: https://example.com/export/news.json
//	    timeout: 30s
//	    headers:
//	      Authorization: Bearer abc
//	    delete_finished_after_days: 7
//	    delete_failed_after_days: 30
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/scheduler"
)

const defaultTimeout = 30 * time.Second

// Entry declares one HTTP import workflow.
type Entry struct {
	ID                      string            `yaml:"id" json:"id"`
	Schedule                string            `yaml:"schedule" json:"schedule"`
	URL                     string            `yaml:"url" json:"url"`
	Method                  string            `yaml:"method,omitempty" json:"method"`
	Timeout                 time.Duration     `yaml:"timeout,omitempty" json:"timeout"`
	Headers                 map[string]string `yaml:"headers,omitempty" json:"-"`
	DeleteFinishedAfterDays *int              `yaml:"delete_finished_after_days,omitempty" json:"delete_finished_after_days,omitempty"`
	DeleteFailedAfterDays   *int              `yaml:"delete_failed_after_days,omitempty" json:"delete_failed_after_days,omitempty"`
}

// Catalog is the parsed catalog file.
type Catalog struct {
	Workflows []Entry `yaml:"workflows"`
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog. Unknown keys are rejected. Method
// defaults to GET and Timeout to 30s.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(c.Workflows))
	for i := range c.Workflows {
		e := &c.Workflows[i]
		if e.Method == "" {
			e.Method = http.MethodGet
		}
		e.Method = strings.ToUpper(e.Method)
		if e.Timeout <= 0 {
			e.Timeout = defaultTimeout
		}
		if err := e.validate(); err != nil {
			errs = append(errs, fmt.Errorf("workflows[%d]: %w", i, err))
			continue
		}
		if seen[e.ID] {
			errs = append(errs, fmt.Errorf("workflows[%d]: duplicate id %q", i, e.ID))
		}
		seen[e.ID] = true
	}
	if len(errs) > 0 {
		return nil, core.NewValidationError(errors.Join(errs...).Error(), nil)
	}
	return &c, nil
}

func (e *Entry) validate() error {
	if e.ID == "" {
		return errors.New("id is required")
	}
	if e.URL == "" {
		return fmt.Errorf("%s: url is required", e.ID)
	}
	if !strings.HasPrefix(e.URL, "http://") && !strings.HasPrefix(e.URL, "https://") {
		return fmt.Errorf("%s: url must be http or https", e.ID)
	}
	if e.Schedule == "" {
		return fmt.Errorf("%s: schedule is required", e.ID)
	}
	if _, err := scheduler.ParseSchedule(e.Schedule); err != nil {
		return fmt.Errorf("%s: invalid schedule %q: %w", e.ID, e.Schedule, err)
	}
	return nil
}

// Jobs builds one HTTPImport per entry, sharing client.
func (c *Catalog) Jobs(client *http.Client) []*HTTPImport {
	jobs := make([]*HTTPImport, 0, len(c.Workflows))
	for _, e := range c.Workflows {
		jobs = append(jobs, NewHTTPImport(e, client))
	}
	return jobs
}
