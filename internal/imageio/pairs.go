package imageio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrUnpaired = errors.New("unpaired mask files")

var maskExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true, ".bmp": true,
}

// Pair is a prediction image and its ground-truth mask sharing a base name.
type Pair struct {
	Name       string
	Prediction string
	Target     string
}

// PairDir matches image files in predDir and targetDir by base name without
// extension. Every file must have a partner.
func PairDir(predDir, targetDir string) ([]Pair, error) {
	preds, err := listMasks(predDir)
	if err != nil {
		return nil, err
	}
	targets, err := listMasks(targetDir)
	if err != nil {
		return nil, err
	}

	var missing []string
	pairs := make([]Pair, 0, len(preds))
	for name, pred := range preds {
		target, ok := targets[name]
		if !ok {
			missing = append(missing, "target for "+name)
			continue
		}
		pairs = append(pairs, Pair{Name: name, Prediction: pred, Target: target})
	}
	for name := range targets {
		if _, ok := preds[name]; !ok {
			missing = append(missing, "prediction for "+name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: missing %s", ErrUnpaired, strings.Join(missing, ", "))
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs, nil
}

func listMasks(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !maskExtensions[ext] {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if prev, ok := files[name]; ok {
			return nil, fmt.Errorf("%s: %q and %q share a base name", dir, filepath.Base(prev), e.Name())
		}
		files[name] = filepath.Join(dir, e.Name())
	}
	return files, nil
}
