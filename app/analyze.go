package app

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/soocke/qrscan-go/domain/decoder"
	"github.com/soocke/qrscan-go/domain/scan"
)

// RunAnalyze decodes every image named in paths (directories are expanded
// one level) and prints one record per payload or failure. It returns the
// number of payloads found.
func RunAnalyze(ctx context.Context, c *Container, paths []string, out *Printer) (int, error) {
	files, err := expand(paths)
	if err != nil {
		return 0, err
	}
	found := 0
	for _, path := range files {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		img, err := decoder.LoadImage(path)
		if err != nil {
			if perr := out.Print(Record{Source: path, Error: err.Error()}); perr != nil {
				return found, perr
			}
			continue
		}
		var printErr error
		scan.AnalyzeStaticWith(ctx, c.Decoder, img,
			func(payload string) {
				found++
				if err := out.Print(Record{Source: path, Payload: payload}); err != nil && printErr == nil {
					printErr = err
				}
			},
			func(err error) {
				if err := out.Print(Record{Source: path, Error: err.Error()}); err != nil && printErr == nil {
					printErr = err
				}
			})
		if printErr != nil {
			return found, printErr
		}
		if c.Logger != nil {
			c.Logger.Debug("app.analyzed", "path", path)
		}
	}
	return found, nil
}

func expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			files = append(files, filepath.Join(p, n))
		}
	}
	return files, nil
}
