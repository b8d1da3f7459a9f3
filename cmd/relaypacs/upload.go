package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	// Packages
	units "github.com/docker/go-units"
	httpclient "github.com/mutablelogic/go-relaypacs/pkg/httpclient"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	term "golang.org/x/term"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type UploadCommands struct {
	Upload UploadCommand `cmd:"" group:"CLIENT" help:"Upload a study directory to the gateway"`
	Status StatusCommand `cmd:"" group:"CLIENT" help:"Show the progress of an upload session"`
	Abort  AbortCommand  `cmd:"" group:"CLIENT" help:"Abandon an upload session and discard its chunks"`
	Report ReportCommand `cmd:"" group:"CLIENT" help:"Fetch the downstream report for a study"`
}

type UploadCommand struct {
	Path        string   `arg:"" name:"path" help:"Local file or directory holding the study (defaults to current directory)." optional:""`
	Token       string   `name:"token" env:"RELAYPACS_TOKEN" required:"" help:"Access credential"`
	Patient     string   `name:"patient" required:"" help:"Patient name"`
	Date        string   `name:"date" required:"" help:"Study date (YYYYMMDD)"`
	Modality    string   `name:"modality" required:"" help:"Modality (e.g. CT, MR)"`
	Age         string   `name:"age" help:"Patient age"`
	Gender      string   `name:"gender" help:"Patient gender"`
	Level       string   `name:"service-level" help:"Service level (default routine)"`
	Description string   `name:"description" help:"Study description"`
	History     string   `name:"history" help:"Clinical history"`
	Force       bool     `name:"force" short:"f" help:"Upload even when the study was seen recently"`
	Ext         []string `name:"ext" default:".dcm" help:"File extensions to upload, or empty for every file"`
	Concurrency int      `name:"concurrency" short:"j" default:"4" help:"Files uploaded at the same time"`
	Session     string   `name:"session" help:"File to save the session in, and resume from when it exists"`
}

type StatusCommand struct {
	ID    string `arg:"" name:"id" help:"Upload session identifier"`
	Token string `name:"token" env:"RELAYPACS_UPLOAD_TOKEN" required:"" help:"Upload credential for the session"`
}

type AbortCommand struct {
	StatusCommand
}

type ReportCommand struct {
	Study string `arg:"" name:"study" help:"Study instance UID"`
	Token string `name:"token" env:"RELAYPACS_TOKEN" required:"" help:"Access credential"`
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (cmd *UploadCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}

	// Resolve the local path: default to cwd.
	local := cmd.Path
	if local == "" {
		if local, err = os.Getwd(); err != nil {
			return fmt.Errorf("cannot determine working directory: %w", err)
		}
	}
	absLocal, err := filepath.Abs(local)
	if err != nil {
		return err
	}
	fi, err := os.Stat(absLocal)
	if err != nil {
		return err
	}

	var fsys fs.FS
	var singleFile string
	if fi.IsDir() {
		fsys = os.DirFS(absLocal)
	} else {
		fsys = os.DirFS(filepath.Dir(absLocal))
		singleFile = fi.Name()
	}

	// Options
	tty := term.IsTerminal(int(os.Stderr.Fd()))
	opts := []httpclient.UploadOpt{
		httpclient.WithConcurrency(cmd.Concurrency),
		httpclient.WithFilter(func(d fs.DirEntry) bool {
			if singleFile != "" {
				return d.Name() == "." || d.Name() == singleFile
			}
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return false
			}
			return d.IsDir() || cmd.match(d.Name())
		}),
		httpclient.WithProgress(func(index, count int, path string, written, total int64) {
			w := len(fmt.Sprint(count))
			fileTag := fmt.Sprintf("[%*d/%d]", w, index+1, count)
			if written == total {
				size := fmt.Sprintf("%9s", units.HumanSizeWithPrecision(float64(total), 3))
				if tty {
					fmt.Fprintf(os.Stderr, "\r\x1b[K  %s  %s  \x1b[1m%s\x1b[0m\n", fileTag, size, path)
				} else {
					fmt.Fprintf(os.Stderr, "  %s  %s  %s\n", fileTag, size, path)
				}
			} else if tty && total > 0 {
				fmt.Fprintf(os.Stderr, "\r\x1b[K  %s  %8d%%  \x1b[1m%s\x1b[0m", fileTag, written*100/total, path)
			}
		}),
	}
	if cmd.Session != "" {
		opts = append(opts, httpclient.WithSession(func(session *schema.InitResponse) {
			if session.Warning != "" {
				fmt.Fprintln(os.Stderr, "warning:", session.Warning)
			}
			if err := writeSession(cmd.Session, session); err != nil {
				fmt.Fprintln(os.Stderr, "warning:", err)
			}
		}))
	}

	// Resume a saved session, or start a new one
	var resp *schema.CompleteResponse
	if session, err := readSession(cmd.Session); err != nil {
		return err
	} else if session != nil {
		fmt.Fprintf(os.Stderr, "resuming upload %s\n", session.ID)
		resp, err = c.Resume(ctx.ctx, session, fsys, opts...)
		if err != nil {
			return err
		}
	} else if resp, err = c.Upload(ctx.ctx, cmd.Token, cmd.request(), fsys, opts...); err != nil {
		return err
	}

	// The session is finished with
	if cmd.Session != "" {
		if err := os.Remove(cmd.Session); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	for _, warning := range resp.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", warning)
	}
	return prettyJSON(resp)
}

func (cmd *StatusCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}
	resp, err := c.Status(ctx.ctx, cmd.Token, cmd.ID)
	if err != nil {
		return err
	}
	return prettyJSON(resp)
}

func (cmd *AbortCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}
	resp, err := c.Abort(ctx.ctx, cmd.Token, cmd.ID)
	if err != nil {
		return err
	}
	return prettyJSON(resp)
}

func (cmd *ReportCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}
	resp, err := c.Report(ctx.ctx, cmd.Token, cmd.Study)
	if err != nil {
		return err
	}
	return prettyJSON(resp)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (cmd *UploadCommand) request() schema.InitRequest {
	return schema.InitRequest{
		Meta: schema.StudyMeta{
			PatientName:      cmd.Patient,
			StudyDate:        cmd.Date,
			Modality:         cmd.Modality,
			Age:              cmd.Age,
			Gender:           cmd.Gender,
			ServiceLevel:     cmd.Level,
			StudyDescription: cmd.Description,
		},
		ClinicalHistory: cmd.History,
		Force:           cmd.Force,
	}
}

// match reports whether the file name has one of the accepted extensions
func (cmd *UploadCommand) match(name string) bool {
	if len(cmd.Ext) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range cmd.Ext {
		if want == "" || strings.ToLower(want) == ext {
			return true
		}
	}
	return false
}

// readSession returns the saved session, or nil if there is none
func readSession(path string) (*schema.InitResponse, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var session schema.InitResponse
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &session, nil
}

func writeSession(path string, session *schema.InitResponse) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func prettyJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
