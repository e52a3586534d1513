package spells

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/vcodec"
	"www.velocidex.com/golang/vfilter"
)

type BatchOptions struct {
	DryRun      bool     `vcodec:"field=dry_run,doc=Never write any file"`
	TargetPath  string   `vcodec:"field=target_path,doc=Write changed files into this directory"`
	Prefix      string   `vcodec:"field=prefix,doc=Prepended to the names of written files"`
	Jobs        int      `vcodec:"field=jobs,doc=Number of files processed in parallel"`
	StopOnError bool     `vcodec:"field=stop_on_error,doc=Stop at the first failed file"`
	Include     []string `vcodec:"field=include,doc=Only cast spells on nodes of these types"`
	Exclude     []string `vcodec:"field=exclude,doc=Never cast spells on nodes of these types"`
}

// The outcome of one file.
type FileResult struct {
	Path string

	// Where the file was written to, if it was changed.
	Output string

	// Not processed because the batch stopped early.
	Skipped bool

	Err  error
	Kind string
}

// A Batch casts spells on many files of one format. Every worker owns
// its own stream and DataRoot; the TypeModel and the spells are
// shared.
type Batch struct {
	model   *vcodec.TypeModel
	spells  []Spell
	options BatchOptions

	// Where spells print to.
	Output io.Writer

	// Logging and lambda scope for all files.
	Scope vfilter.Scope

	// Additional expression parameters for reading.
	Parameters *ordereddict.Dict
}

func NewBatch(model *vcodec.TypeModel, options *ordereddict.Dict,
	spells ...Spell) (*Batch, error) {
	result := &Batch{
		model:  model,
		spells: spells,
		Output: os.Stdout,
		Scope:  vcodec.MakeScope(),
	}

	err := vcodec.ParseOptions(options, &result.options)
	if err != nil {
		return nil, err
	}

	if result.options.Jobs <= 0 {
		result.options.Jobs = 1
	}

	names := append([]string{}, result.options.Include...)
	for _, name := range append(names, result.options.Exclude...) {
		_, pres := model.Struct(name)
		if !pres {
			return nil, &vcodec.SchemaError{Type: name, Err: vcodec.NotFoundError}
		}
	}

	return result, nil
}

func (self *Batch) Options() BatchOptions {
	return self.options
}

// A file to process and its path relative to the input it was
// found under.
type batchFile struct {
	path string
	rel  string
}

// Expand inputs into the list of files to process. Directories are
// searched for files with the format's extensions; files named
// explicitly are always processed.
func (self *Batch) Files(inputs []string) ([]string, error) {
	files, err := self.files(inputs)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(files))
	for _, file := range files {
		result = append(result, file.path)
	}
	return result, nil
}

func (self *Batch) files(inputs []string) ([]batchFile, error) {
	var result []batchFile
	seen := make(map[string]bool)
	add := func(file batchFile) {
		key := filepath.Clean(file.path)
		if !seen[key] {
			seen[key] = true
			result = append(result, file)
		}
	}

	for _, input := range inputs {
		stat, err := os.Stat(input)
		if err != nil {
			return nil, err
		}

		if !stat.IsDir() {
			add(batchFile{path: input, rel: filepath.Base(input)})
			continue
		}

		var found []batchFile
		err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !self.model.Matches(path) {
				return nil
			}

			rel, err := filepath.Rel(input, path)
			if err != nil {
				return err
			}
			found = append(found, batchFile{path: path, rel: rel})
			return nil
		})
		if err != nil {
			return nil, err
		}

		sort.Slice(found, func(i, j int) bool {
			return found[i].path < found[j].path
		})
		for _, file := range found {
			add(file)
		}
	}
	return result, nil
}

// Every file must have an output path of its own.
func (self *Batch) outputPaths(files []batchFile) ([]string, error) {
	result := make([]string, 0, len(files))
	owners := make(map[string]string)
	for _, file := range files {
		output := self.outputPath(file)

		key := filepath.Clean(output)
		owner, pres := owners[key]
		if pres && !self.options.DryRun {
			return nil, fmt.Errorf("%v and %v would both be written to %v",
				owner, file.path, output)
		}
		owners[key] = file.path
		result = append(result, output)
	}
	return result, nil
}

// Run the batch over inputs. Failures of single files are reported in
// their FileResult and do not affect other files unless StopOnError
// is set, in which case the first failure is also returned.
func (self *Batch) Run(ctx context.Context, inputs []string) ([]*FileResult, error) {
	files, err := self.files(inputs)
	if err != nil {
		return nil, err
	}

	outputs, err := self.outputPaths(files)
	if err != nil {
		return nil, err
	}

	sub_ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*FileResult, len(files))
	jobs := make(chan int)

	var mu sync.Mutex
	var first_error error

	wg := &sync.WaitGroup{}
	for i := 0; i < self.options.Jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range jobs {
				if sub_ctx.Err() != nil {
					results[idx] = &FileResult{Path: files[idx].path, Skipped: true}
					continue
				}

				result := self.processFile(sub_ctx, files[idx].path, outputs[idx])
				results[idx] = result

				if result.Err != nil {
					self.Scope.Log("ERROR:vcodec: %v: %v", result.Path, result.Err)

					if self.options.StopOnError {
						mu.Lock()
						if first_error == nil {
							first_error = result.Err
						}
						mu.Unlock()
						cancel()
					}
				}
			}
		}()
	}

	for idx := range files {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	if first_error != nil {
		return results, first_error
	}
	return results, ctx.Err()
}

func (self *Batch) processFile(ctx context.Context, path, output string) *FileResult {
	result := &FileResult{Path: path}
	fail := func(err error) *FileResult {
		result.Err = err
		result.Kind = Kind(err)
		return result
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}

	root, err := vcodec.ReadData(ctx, self.model, bytes.NewReader(data),
		&vcodec.Options{Scope: self.Scope, Parameters: self.Parameters})
	if err != nil {
		return fail(err)
	}

	spell_ctx := NewContext(ctx, root)
	spell_ctx.Filename = path
	spell_ctx.Data = data
	spell_ctx.Output = self.Output
	spell_ctx.Include = self.options.Include
	spell_ctx.Exclude = self.options.Exclude

	err = spell_ctx.Walk(self.spells...)
	if err != nil {
		return fail(err)
	}

	if !root.Dirty() || self.options.DryRun {
		return result
	}

	err = os.MkdirAll(filepath.Dir(output), 0700)
	if err != nil {
		return fail(err)
	}

	err = vcodec.WriteFile(ctx, root, output)
	if err != nil {
		return fail(err)
	}
	root.ClearDirty()

	vcodec.ScopeDebug(self.Scope, "wrote %v", output)
	result.Output = output
	return result
}

// Changed files are written in place unless a prefix or target path
// is given. Under a target path files keep their location relative to
// the input directory they were found in.
func (self *Batch) outputPath(file batchFile) string {
	dir, name := filepath.Split(file.path)
	if self.options.TargetPath != "" {
		dir = filepath.Join(self.options.TargetPath, filepath.Dir(file.rel))
	}
	return filepath.Join(dir, self.options.Prefix+name)
}

// Let every spell summarize the batch.
func (self *Batch) Report(w io.Writer) error {
	for _, spell := range self.spells {
		reporter, ok := spell.(Reporter)
		if !ok {
			continue
		}

		err := reporter.Report(w)
		if err != nil {
			return err
		}
	}
	return nil
}
