package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soocke/qrscan-go/config"
)

// Record is one printed scan outcome.
type Record struct {
	Source  string    `json:"source" yaml:"source"`
	Payload string    `json:"payload,omitempty" yaml:"payload,omitempty"`
	Error   string    `json:"error,omitempty" yaml:"error,omitempty"`
	Time    time.Time `json:"time" yaml:"time"`
}

// Printer writes records in the configured format. Safe for concurrent use.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	count  int
}

func NewPrinter(w io.Writer, format string) *Printer {
	return &Printer{w: w, format: format}
}

func (p *Printer) Print(r Record) error {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.count++ }()
	switch p.format {
	case config.FormatJSON:
		return json.NewEncoder(p.w).Encode(r)
	case config.FormatYAML:
		if p.count > 0 {
			if _, err := io.WriteString(p.w, "---\n"); err != nil {
				return err
			}
		}
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		if r.Error != "" {
			_, err := fmt.Fprintf(p.w, "%s\terror: %s\n", r.Source, r.Error)
			return err
		}
		_, err := fmt.Fprintf(p.w, "%s\t%s\n", r.Source, r.Payload)
		return err
	}
}
