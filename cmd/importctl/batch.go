package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bulkimport/bulkimport/internal/app"
	"github.com/bulkimport/bulkimport/internal/config"
	"github.com/bulkimport/bulkimport/internal/importer"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/state"
	"github.com/bulkimport/bulkimport/internal/task"
)

const localBucket = "local"

type batchOptions struct {
	Title       string
	RecordType  string
	Serializer  string
	Mode        string
	FilesDir    string
	Communities []string
	Offline     bool
}

// batchResult is what a batch leaves behind.
type batchResult struct {
	Task    *task.ImportTask
	Records []*task.ImportRecord
}

func (o *batchOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Title, "title", "", "task title (defaults to the file name)")
	cmd.Flags().StringVar(&o.RecordType, "record-type", "rdm", "record type of the batch")
	cmd.Flags().StringVar(&o.Serializer, "serializer", "csv", "serializer of the source file")
	cmd.Flags().StringVar(&o.Mode, "mode", string(record.ModeImport), "import or delete")
	cmd.Flags().StringVar(&o.FilesDir, "files-dir", "", "directory uploaded as the file bucket of the task")
	cmd.Flags().StringSliceVar(&o.Communities, "community", nil, "community slug registered on the in-memory platform")
	cmd.Flags().BoolVar(&o.Offline, "offline", false, "reject remote file references instead of checking them")
}

func newValidateCmd() *cobra.Command {
	var opts batchOptions
	cmd := &cobra.Command{
		Use:   "validate <source-file>",
		Short: "Validate a batch without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runBatch(cmd.Context(), args[0], opts, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printBatch(cmd.OutOrStdout(), res, viper.GetBool("json"))
		},
	}
	opts.bind(cmd)
	return cmd
}

func newRunCmd() *cobra.Command {
	var opts batchOptions
	cmd := &cobra.Command{
		Use:   "run <source-file>",
		Short: "Validate a batch and import its valid records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runBatch(cmd.Context(), args[0], opts, true, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := printBatch(cmd.OutOrStdout(), res, viper.GetBool("json")); err != nil {
				return err
			}
			if res.Task.Status != state.TaskSuccess {
				return fmt.Errorf("task finished as %q", res.Task.Status)
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

// runBatch validates the source file and, when doImport is set, imports it.
// Logs go to logOut.
func runBatch(ctx context.Context, path string, opts batchOptions, doImport bool, logOut io.Writer) (*batchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}

	cfg, err := config.Load(viper.GetString("env-file"))
	if err != nil {
		return nil, err
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: logOut}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
	if lvl, lvlErr := zerolog.ParseLevel(cfg.LogLevel); lvlErr == nil && lvl < zerolog.InfoLevel {
		log = log.Level(lvl)
	}

	appOpts := app.Options{Version: Version, LocalJobs: true}
	if opts.Offline {
		appOpts.Checkers = &app.Checkers{}
	}
	a, err := app.New(ctx, cfg, appOpts, log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.Start(runCtx)

	bucketID := ""
	if a.Memory != nil {
		for _, slug := range opts.Communities {
			a.Memory.AddCommunity(slug, slug)
		}
		if opts.FilesDir != "" {
			if err := loadBucket(a, opts.FilesDir); err != nil {
				return nil, err
			}
			bucketID = localBucket
		}
	} else if opts.FilesDir != "" {
		return nil, errors.New("--files-dir needs the in-memory platform; unset PLATFORM_URL")
	}

	title := opts.Title
	if title == "" {
		title = filepath.Base(path)
	}
	t, err := a.Service.CreateTask(ctx, importer.CreateTaskInput{
		Title:      title,
		Mode:       record.Mode(opts.Mode),
		RecordType: opts.RecordType,
		Serializer: opts.Serializer,
		BucketID:   bucketID,
		StartedBy:  "importctl",
	})
	if err != nil {
		return nil, err
	}
	if _, err := a.Service.AttachSourceFile(ctx, t.ID, filepath.Base(path), data); err != nil {
		return nil, err
	}

	if err := a.Service.BeginValidation(ctx, t.ID); err != nil {
		return nil, err
	}
	a.Pool.Wait()

	if doImport {
		t, err = a.Service.GetTask(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if t.Status == state.TaskValidated || t.Status == state.TaskValidatedWithFailure {
			if err := a.Service.BeginImport(ctx, t.ID); err != nil {
				return nil, err
			}
			a.Pool.Wait()
		}
	}

	return collect(ctx, a.Service, t.ID)
}

func loadBucket(a *app.App, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		a.Memory.PutObject(localBucket, filepath.ToSlash(rel), data)
		return nil
	})
}

func collect(ctx context.Context, svc *importer.Service, taskID string) (*batchResult, error) {
	t, err := svc.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	res := &batchResult{Task: t}

	opts := task.RecordListOptions{ListOptions: task.ListOptions{Limit: 200}}
	for {
		page, err := svc.ListRecords(ctx, taskID, opts)
		if err != nil {
			return nil, err
		}
		res.Records = append(res.Records, page.Items...)
		if page.NextCursor == "" {
			return res, nil
		}
		opts.Cursor = page.NextCursor
	}
}

func summarize(errs []string) string {
	const limit = 80
	s := strings.Join(errs, "; ")
	if len(s) > limit {
		return s[:limit-3] + "..."
	}
	return s
}
